package logger

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	gormlogger "gorm.io/gorm/logger"
)

func TestInit_Level(t *testing.T) {
	t.Cleanup(func() { Init("info") })

	tests := []struct {
		level string
		want  zerolog.Level
		gorm  gormlogger.LogLevel
	}{
		{"debug", zerolog.DebugLevel, gormlogger.Info},
		{"info", zerolog.InfoLevel, gormlogger.Warn},
		{"error", zerolog.ErrorLevel, gormlogger.Error},
		{"nonsense", zerolog.InfoLevel, gormlogger.Warn},
	}
	for _, tt := range tests {
		Init(tt.level)
		if got := Get().GetLevel(); got != tt.want {
			t.Errorf("Init(%q) level = %v, want %v", tt.level, got, tt.want)
		}
		if got := NewGormLogger().level; got != tt.gorm {
			t.Errorf("Init(%q) gorm level = %v, want %v", tt.level, got, tt.gorm)
		}
	}
}

func TestGinRecovery_ReturnsEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(GinLogger(), GinRecovery())
	router.GET("/boom", func(c *gin.Context) {
		panic("boom")
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/boom", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
	}
	if !strings.Contains(w.Body.String(), `"code":500`) {
		t.Errorf("expected error envelope, got %s", w.Body.String())
	}
}
