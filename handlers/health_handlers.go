package handlers

import (
	"context"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tas-support-backend/services"
)

type HealthHandlers struct {
	store       services.VectorStore
	llm         services.LLMService
	environment string
	startedAt   time.Time
}

func NewHealthHandlers(store services.VectorStore, llm services.LLMService, environment string) *HealthHandlers {
	return &HealthHandlers{
		store:       store,
		llm:         llm,
		environment: environment,
		startedAt:   time.Now(),
	}
}

// Health probes the vector store and LLM concurrently. Any failing dependency
// turns the whole response into a 503 so orchestrators stop routing traffic.
func (h *HealthHandlers) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	statuses := map[string]string{"vector": "ok", "llm": "ok"}
	var mu sync.Mutex
	var wg sync.WaitGroup

	probe := func(name string, check func(context.Context) error) {
		defer wg.Done()
		if err := check(ctx); err != nil {
			mu.Lock()
			statuses[name] = err.Error()
			mu.Unlock()
		}
	}
	wg.Add(2)
	go probe("vector", h.store.Healthy)
	go probe("llm", h.llm.Healthy)
	wg.Wait()

	healthy := true
	for _, status := range statuses {
		if status != "ok" {
			healthy = false
		}
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	code := http.StatusOK
	overall := "healthy"
	if !healthy {
		code = http.StatusServiceUnavailable
		overall = "degraded"
	}
	c.JSON(code, gin.H{
		"status":      overall,
		"services":    statuses,
		"uptime_s":    int64(time.Since(h.startedAt).Seconds()),
		"memory_mb":   mem.Alloc / (1 << 20),
		"environment": h.environment,
	})
}
