package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/audit"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/engine"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/orchestrator"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/types/capability"
)

type staticSource []capability.Descriptor

func (s staticSource) Load(context.Context) ([]capability.Descriptor, error) {
	return s, nil
}

func descriptors() staticSource {
	return staticSource{
		{
			ID:                 "tool-calling",
			Kind:               capability.KindSkill,
			Description:        "Function calling for agents",
			ActivationTriggers: []string{"function calling", "tool use"},
			ParameterSchema: []capability.ParameterSpec{
				{Name: "level", Type: capability.ParamEnum, Default: "beginner", AllowedValues: []string{"beginner", "advanced"}},
			},
			Bonds: []capability.Bond{{TargetID: "tool-specialist", Type: capability.BondPrimary}},
		},
		{ID: "tool-specialist", Kind: capability.KindAgent, Description: "Tool integration specialist"},
		{
			ID:          "assess",
			Kind:        capability.KindCommand,
			Description: "Assess progress",
			Flow:        capability.FlowSequential,
			Bonds:       []capability.Bond{{TargetID: "tool-specialist", Type: capability.BondSecondary}},
		},
	}
}

func newTestServer(t *testing.T, opts ...engine.Option) (*Server, *audit.Recorder) {
	t.Helper()
	recorder, err := audit.Open(context.Background(), filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { recorder.Close() })

	eng, err := engine.New(descriptors(), append(opts, engine.WithRecorder(recorder))...)
	require.NoError(t, err)
	require.NoError(t, eng.Load(context.Background()))

	s, err := New(Config{Host: "127.0.0.1", Port: 8080}, eng, recorder)
	require.NoError(t, err)
	return s, recorder
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestResolve(t *testing.T) {
	s, _ := newTestServer(t)

	t.Run("matched plan", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/api/resolve", resolveRequest{Text: "add tool use to my agent"})
		require.Equal(t, http.StatusOK, rec.Code)

		var plan capability.Plan
		decode(t, rec, &plan)
		assert.Equal(t, []string{"tool-calling"}, plan.DescriptorIDs())
		assert.Equal(t, "beginner", plan.Steps[0].Parameters["level"])
	})

	t.Run("validation errors", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/api/resolve", resolveRequest{
			Text: "tool use please",
			Args: map[string]string{"level": "expert"},
		})
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

		var resp errorResponse
		decode(t, rec, &resp)
		require.Len(t, resp.Validation, 1)
		assert.Equal(t, "level", resp.Validation[0].Field)
		assert.Equal(t, capability.CodeInvalidEnumValue, resp.Validation[0].Code)
	})

	t.Run("no match", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/api/resolve", resolveRequest{Text: "bake a cake"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("explicit id", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/api/resolve", resolveRequest{ID: "assess"})
		require.Equal(t, http.StatusOK, rec.Code)

		var plan capability.Plan
		decode(t, rec, &plan)
		assert.Equal(t, []string{"assess", "tool-specialist"}, plan.DescriptorIDs())
	})

	t.Run("empty request", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/api/resolve", resolveRequest{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/resolve", bytes.NewBufferString("{"))
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestExecute(t *testing.T) {
	t.Run("success is recorded", func(t *testing.T) {
		s, _ := newTestServer(t)
		rec := do(t, s, http.MethodPost, "/api/execute", resolveRequest{ID: "assess", Text: "assess me"})
		require.Equal(t, http.StatusOK, rec.Code)

		var resp executeResponse
		decode(t, rec, &resp)
		require.Len(t, resp.Results, 2)
		assert.Equal(t, "tool-specialist", resp.Results[1].DescriptorID)

		rec = do(t, s, http.MethodGet, "/api/executions/"+resp.Plan.ID, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var execution audit.Execution
		decode(t, rec, &execution)
		assert.True(t, execution.Succeeded())
		assert.Len(t, execution.Results, 2)

		rec = do(t, s, http.MethodGet, "/api/executions?limit=5", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var list struct {
			Executions []audit.Execution `json:"executions"`
		}
		decode(t, rec, &list)
		assert.Len(t, list.Executions, 1)
	})

	t.Run("failure returns partial results", func(t *testing.T) {
		failing := orchestrator.InvokerFunc(func(_ context.Context, inv orchestrator.Invocation) (capability.Result, error) {
			if inv.Step.Index == 1 {
				return capability.Result{}, errors.New("upstream timeout")
			}
			return capability.Result{Output: "first"}, nil
		})
		s, _ := newTestServer(t, engine.WithInvoker(failing))

		rec := do(t, s, http.MethodPost, "/api/execute", resolveRequest{ID: "assess"})
		require.Equal(t, http.StatusBadGateway, rec.Code)

		var resp errorResponse
		decode(t, rec, &resp)
		require.NotNil(t, resp.FailedStep)
		assert.Equal(t, 1, *resp.FailedStep)
		require.Len(t, resp.Results, 1)
		assert.Equal(t, "first", resp.Results[0].Output)
		assert.Contains(t, resp.Error, "upstream timeout")
	})
}

func TestCapabilities(t *testing.T) {
	s, _ := newTestServer(t)

	t.Run("list", func(t *testing.T) {
		rec := do(t, s, http.MethodGet, "/api/capabilities", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Capabilities []capabilitySummary `json:"capabilities"`
			Total        int                 `json:"total"`
		}
		decode(t, rec, &resp)
		assert.Equal(t, 3, resp.Total)
		assert.Equal(t, "assess", resp.Capabilities[0].ID)
	})

	t.Run("list filtered by kind", func(t *testing.T) {
		rec := do(t, s, http.MethodGet, "/api/capabilities?kind=agent", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Capabilities []capabilitySummary `json:"capabilities"`
		}
		decode(t, rec, &resp)
		require.Len(t, resp.Capabilities, 1)
		assert.Equal(t, "tool-specialist", resp.Capabilities[0].ID)
	})

	t.Run("detail", func(t *testing.T) {
		rec := do(t, s, http.MethodGet, "/api/capabilities/tool-specialist", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp map[string]any
		decode(t, rec, &resp)
		assert.Equal(t, "tool-specialist", resp["id"])
		assert.ElementsMatch(t, []any{"assess", "tool-calling"}, resp["bonded_to"])
		assert.Contains(t, resp, "schema")
	})

	t.Run("unknown", func(t *testing.T) {
		rec := do(t, s, http.MethodGet, "/api/capabilities/nope", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status       string         `json:"status"`
		Capabilities int            `json:"capabilities"`
		Process      map[string]any `json:"process"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Positive(t, body.Capabilities)
	if body.Process != nil {
		assert.EqualValues(t, os.Getpid(), body.Process["pid"])
	}

	eng, err := engine.New(descriptors())
	require.NoError(t, err)
	unloaded, err := New(Config{Host: "localhost", Port: 1}, eng, nil)
	require.NoError(t, err)

	rec = do(t, unloaded, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	rec = do(t, unloaded, http.MethodGet, "/api/capabilities", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	rec = do(t, unloaded, http.MethodGet, "/api/executions", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, (&Config{Host: "localhost", Port: 8080}).Validate())
	assert.Error(t, (&Config{Port: 8080}).Validate())
	assert.Error(t, (&Config{Host: "localhost", Port: 70000}).Validate())
}
