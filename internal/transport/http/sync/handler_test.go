package sync

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/Additional-Code/packline/internal/config"
	"github.com/Additional-Code/packline/internal/entity"
	"github.com/Additional-Code/packline/internal/marketplace"
	postingrepo "github.com/Additional-Code/packline/internal/repository/posting"
	service "github.com/Additional-Code/packline/internal/service/sync"
)

type stubStore struct{}

func (stubStore) FindByNumber(ctx context.Context, number string) (*entity.Posting, error) {
	return nil, postingrepo.ErrNotFound
}

func (stubStore) Create(ctx context.Context, posting *entity.Posting) error { return nil }

func (stubStore) ApplySync(ctx context.Context, number string, update postingrepo.SyncUpdate) error {
	return nil
}

// gatedLister parks the first listing call until released, keeping a run
// in flight for as long as the test needs.
type gatedLister struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gatedLister) ListPostings(ctx context.Context, status string, offset, limit int) (*marketplace.Page, error) {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	<-g.release
	return &marketplace.Page{}, nil
}

func TestRunReportsInFlightStatus(t *testing.T) {
	lister := &gatedLister{entered: make(chan struct{}, 1), release: make(chan struct{})}
	cfg := config.Config{}
	cfg.Marketplace.PageLimit = 100
	reconciler := service.NewReconciler(service.Params{
		Store:  stubStore{},
		Market: lister,
		Logger: zap.NewNop(),
		Config: cfg,
	})
	h := NewHandler(reconciler)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = reconciler.Run(context.Background())
	}()
	<-lister.entered

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/sync/run", nil)
	rec := httptest.NewRecorder()

	err := h.run(e.NewContext(req, rec))
	close(lister.release)
	<-done
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for a trigger during a run, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"state":"running"`) {
		t.Fatalf("expected in-flight status, got %s", rec.Body.String())
	}
}
