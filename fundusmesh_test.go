package fundusmesh_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/fundusmesh"
	"github.com/hupe1980/fundusmesh/config"
	"github.com/hupe1980/fundusmesh/core"
	"github.com/hupe1980/fundusmesh/fundus"
	"github.com/hupe1980/fundusmesh/logging"
	"github.com/hupe1980/fundusmesh/model"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	ml := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/embed" {
			_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": []float32{1, 0}, "embedding_model": "test"})
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(ml.Close)

	dir := t.TempDir()
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(dir, "fundus.db")
	cfg.Images.Dir = filepath.Join(dir, "images")
	cfg.ML.URL = ml.URL
	cfg.Session.SweepSchedule = ""

	return cfg
}

func mockCatalog(m *model.MockModel) *model.Catalog {
	return model.NewCatalog(func(o *model.CatalogOptions) {
		o.Models = []string{"gpt-4o-mini"}
		o.Factories = map[model.Provider]model.Factory{
			model.ProviderOpenAI: func(string) (model.Model, error) { return m, nil },
		}
	})
}

func TestNewWiresSingleAssistant(t *testing.T) {
	mock := model.NewMockModel("gpt-4o-mini", model.ProviderOpenAI).Script(
		model.ToolCallResponse(core.FunctionCall{ID: "c1", Name: "get_total_number_of_fundus_records", Arguments: `{}`}),
		model.TextResponse("The database is empty."),
	)

	mesh, err := fundusmesh.New(context.Background(), testConfig(t), func(o *fundusmesh.Options) {
		o.Logger = logging.NoOpLogger{}
		o.Catalog = mockCatalog(mock)
		o.WaitForEmbedder = true
	})
	require.NoError(t, err)
	defer mesh.Close()

	ids := make([]string, 0, len(mesh.Roles))
	for _, r := range mesh.Roles {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{fundus.RoleDBLookup, fundus.RoleSimSearch, fundus.RoleLexSearch, fundus.RoleImageAnalysis}, ids)
	assert.NotNil(t, mesh.Images)

	info, err := mesh.NewSingleAssistant(context.Background(), "")
	require.NoError(t, err)

	reply, err := mesh.Runner.SendUserMessage(context.Background(), info.ID, "How many records are there?", "")
	require.NoError(t, err)
	assert.Equal(t, "The database is empty.", reply)

	reqs := mock.Requests()
	require.Len(t, reqs, 2)
	assert.Len(t, reqs[0].Tools, 21)
	last := reqs[1].Messages[len(reqs[1].Messages)-1]
	assert.Equal(t, core.RoleTool, last.Role)
}

func TestNewWiresMultiAgent(t *testing.T) {
	mock := model.NewMockModel("gpt-4o-mini", model.ProviderOpenAI).Script(
		model.TextResponse("Hello! Ask me about the FUNDus! collections."),
	)

	mesh, err := fundusmesh.New(context.Background(), testConfig(t), func(o *fundusmesh.Options) {
		o.Logger = logging.NoOpLogger{}
		o.Catalog = mockCatalog(mock)
	})
	require.NoError(t, err)
	defer mesh.Close()

	info, err := mesh.Runner.GetOrCreateAgent(context.Background(), "", "")
	require.NoError(t, err)

	reply, err := mesh.Runner.HandleUserRequest(context.Background(), info.ID, "Hi", "")
	require.NoError(t, err)
	assert.Equal(t, "Hello! Ask me about the FUNDus! collections.", reply)

	system := mock.Requests()[0].Messages[0].Text()
	assert.Contains(t, system, "`db_lookup`")
	assert.Contains(t, system, "`img_analysis`")
	assert.Empty(t, mock.Requests()[0].Tools)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Session.MaxSessions = 0

	_, err := fundusmesh.New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	logger, err := fundusmesh.NewLogger(config.LoggingConfig{Level: "info", Format: "json", Backend: "slog"}, &buf)
	require.NoError(t, err)
	assert.IsType(t, &logging.MeshLogger{}, logger)
	logger.Info("mesh.ready", "roles", 4)
	assert.Contains(t, buf.String(), `"msg":"mesh.ready"`)

	buf.Reset()
	logger, err = fundusmesh.NewLogger(config.LoggingConfig{Level: "debug", Format: "json", Backend: "zerolog"}, &buf)
	require.NoError(t, err)
	assert.IsType(t, &logging.ZerologAdapter{}, logger)
	logger.Debug("mesh.ready")
	assert.Contains(t, buf.String(), `"message":"mesh.ready"`)

	_, err = fundusmesh.NewLogger(config.LoggingConfig{Level: "loud"}, &buf)
	assert.Error(t, err)
}

func TestNewCatalog(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")

	cfg := config.Default()
	assert.Empty(t, fundusmesh.NewCatalog(cfg).Providers())

	t.Setenv("GEMINI_API_KEY", "g-key")
	cfg.Providers.OpenAI.APIKey = "sk-test"

	c := fundusmesh.NewCatalog(cfg)
	assert.Equal(t, []model.Provider{model.ProviderGoogle, model.ProviderOpenAI}, c.Providers())
	assert.Equal(t, "gpt-4o-mini", c.Default())

	m, err := c.Resolve("google/gemini-2.0-flash")
	require.NoError(t, err)
	assert.Equal(t, model.ProviderGoogle, m.Info().Provider)

	_, err = c.Resolve("claude-3-5-haiku-latest")
	assert.ErrorIs(t, err, core.ErrModelUnavailable)
}
