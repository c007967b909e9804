package mcpserver

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/meridian/internal/catalog"
	"github.com/meridianhq/meridian/internal/gateway"
	"github.com/meridianhq/meridian/internal/pipeline"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeCatalog struct{}

func (fakeCatalog) ListCollections(ctx context.Context, force bool) []catalog.Collection {
	return []catalog.Collection{
		{ID: "c1", Name: "Finance"},
		{ID: "c2", Name: "Operations"},
	}
}

func (fakeCatalog) ListDatasets(ctx context.Context, collectionID string, force bool) []catalog.Dataset {
	switch collectionID {
	case "c1":
		return []catalog.Dataset{
			{ID: "d1", Name: "Sales_2024", CollectionID: "c1", CollectionName: "Finance", Refreshable: true},
		}
	case "c2":
		return []catalog.Dataset{
			{ID: "d2", Name: "Shipments", CollectionID: "c2", CollectionName: "Operations"},
		}
	default:
		return nil
	}
}

type fakeExecutor struct{}

func (fakeExecutor) ExecuteQuery(ctx context.Context, datasetID, statement string) (catalog.QueryResult, error) {
	return catalog.QueryResult{Success: true, Rows: []map[string]any{{"Value": 1}}, RowCount: 1}, nil
}

func newTestGateway(t *testing.T) *gateway.Service {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 15, 10, 0, 0, 0, time.UTC))
	asm, err := pipeline.NewAssembler(pipeline.AssemblerConfig{Logger: newTestLogger(), Clock: clock, Catalog: fakeCatalog{}})
	require.NoError(t, err)
	rsn, err := pipeline.NewReasoner(pipeline.ReasonerConfig{Logger: newTestLogger(), Clock: clock, LLM: pipeline.DisabledLLM{}})
	require.NoError(t, err)
	eng, err := pipeline.NewEngine(pipeline.EngineConfig{
		Logger: newTestLogger(), Clock: clock, Assembler: asm, Reasoner: rsn, Executor: fakeExecutor{},
	})
	require.NoError(t, err)
	gw, err := gateway.NewService(gateway.Config{
		Logger: newTestLogger(), Engine: eng, Assembler: asm, Reasoner: rsn, Catalog: fakeCatalog{},
	})
	require.NoError(t, err)
	return gw
}

func newTestServer(t *testing.T, allowedTokens []string) *Server {
	t.Helper()
	s, err := New(Config{
		Logger:        newTestLogger(),
		Gateway:       newTestGateway(t),
		Catalog:       fakeCatalog{},
		Version:       "test",
		ListenAddr:    "127.0.0.1:0",
		AllowedTokens: allowedTokens,
	})
	require.NoError(t, err)
	return s
}

func TestMCPServer_ConfigValidate(t *testing.T) {
	t.Parallel()

	gw := newTestGateway(t)

	t.Run("defaults applied", func(t *testing.T) {
		t.Parallel()
		cfg := Config{Logger: newTestLogger(), Gateway: gw, Catalog: fakeCatalog{}, ListenAddr: ":8080"}
		require.NoError(t, cfg.Validate())
		require.Equal(t, defaultReadHeaderTimeout, cfg.ReadHeaderTimeout)
		require.Equal(t, defaultShutdownTimeout, cfg.ShutdownTimeout)
	})

	t.Run("missing logger", func(t *testing.T) {
		t.Parallel()
		cfg := Config{Gateway: gw, Catalog: fakeCatalog{}, ListenAddr: ":8080"}
		require.ErrorContains(t, cfg.Validate(), "logger is required")
	})

	t.Run("missing gateway", func(t *testing.T) {
		t.Parallel()
		cfg := Config{Logger: newTestLogger(), Catalog: fakeCatalog{}, ListenAddr: ":8080"}
		require.ErrorContains(t, cfg.Validate(), "gateway is required")
	})

	t.Run("missing listen address", func(t *testing.T) {
		t.Parallel()
		cfg := Config{Logger: newTestLogger(), Gateway: gw, Catalog: fakeCatalog{}}
		require.ErrorContains(t, cfg.Validate(), "listen address is required")
	})
}

func TestMCPServer_RegisterTools(t *testing.T) {
	t.Parallel()

	gw := newTestGateway(t)
	server := mcp.NewServer(&mcp.Implementation{Name: "Test Server", Version: "1.0.0"}, nil)

	require.NoError(t, RegisterAnalysisTools(newTestLogger(), server, gw))
	require.NoError(t, RegisterQueryGenerationTool(newTestLogger(), server, gw))
	require.NoError(t, RegisterListDatasetsTool(newTestLogger(), server, fakeCatalog{}))
}

func TestMCPServer_CollectDatasetSummaries(t *testing.T) {
	t.Parallel()

	t.Run("no filter lists all collections", func(t *testing.T) {
		t.Parallel()
		summaries := collectDatasetSummaries(context.Background(), fakeCatalog{}, "")
		require.Len(t, summaries, 2)
		require.Equal(t, "Sales_2024", summaries[0].Name)
		require.Equal(t, "Finance", summaries[0].Collection)
		require.True(t, summaries[0].Refreshable)
		require.Equal(t, "Shipments", summaries[1].Name)
	})

	t.Run("filter by collection name is case insensitive", func(t *testing.T) {
		t.Parallel()
		summaries := collectDatasetSummaries(context.Background(), fakeCatalog{}, "finance")
		require.Len(t, summaries, 1)
		require.Equal(t, "Sales_2024", summaries[0].Name)
	})

	t.Run("filter by collection ID", func(t *testing.T) {
		t.Parallel()
		summaries := collectDatasetSummaries(context.Background(), fakeCatalog{}, "c2")
		require.Len(t, summaries, 1)
		require.Equal(t, "Shipments", summaries[0].Name)
	})

	t.Run("unknown collection yields empty", func(t *testing.T) {
		t.Parallel()
		summaries := collectDatasetSummaries(context.Background(), fakeCatalog{}, "Marketing")
		require.Empty(t, summaries)
	})
}

func TestMCPServer_AuthMiddleware(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, []string{"secret-token"})
	handler := s.Handler()

	tests := []struct {
		name       string
		authHeader string
		wantStatus int
		wantBody   string
	}{
		{"missing header", "", http.StatusUnauthorized, "unauthorized: missing authorization header\n"},
		{"invalid format", "Basic abc", http.StatusUnauthorized, "unauthorized: invalid authorization header format\n"},
		{"empty token", "Bearer ", http.StatusUnauthorized, "unauthorized: empty token\n"},
		{"invalid token", "Bearer wrong", http.StatusUnauthorized, "unauthorized: invalid token\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rr := httptest.NewRecorder()

			handler.ServeHTTP(rr, req)

			require.Equal(t, tt.wantStatus, rr.Code)
			require.Equal(t, tt.wantBody, rr.Body.String())
			require.Equal(t, "Bearer", rr.Header().Get("WWW-Authenticate"))
		})
	}

	t.Run("valid token passes auth", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("Authorization", "Bearer secret-token")
		rr := httptest.NewRecorder()

		handler.ServeHTTP(rr, req)

		require.NotEqual(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("healthz bypasses auth", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		rr := httptest.NewRecorder()

		handler.ServeHTTP(rr, req)

		require.Equal(t, http.StatusOK, rr.Code)
		require.Equal(t, "ok\n", rr.Body.String())
	})
}

func TestMCPServer_ReadyzHandler(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()

	s.readyzHandler(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ok\n", rr.Body.String())
}

func TestMCPServer_RunShutdown(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Run(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
