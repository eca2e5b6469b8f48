package relay

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/M7mdRef3t/dawayir-live-agent/domain/repositories"
	"github.com/M7mdRef3t/dawayir-live-agent/internal/protocol"
)

func TestRouterRoutesByKind(t *testing.T) {
	r := NewRouter()
	calls := []protocol.FunctionCall{
		{ID: "a", Name: ToolUpdateNode, Args: protocol.Args{"id": 1.0, "radius": 80.0}},
		{ID: "b", Name: ToolSessionSummary},
		{ID: "c", Name: "open_url", Args: protocol.Args{"url": "https://example.com"}},
	}
	res := r.Route(context.Background(), calls, Snapshot{SessionID: "s1", StartedAt: time.Now()})

	if res.Visual != 1 || res.ServerResolved != 1 || res.PassThrough != 1 {
		t.Fatalf("unexpected counts: %+v", res)
	}
	if len(res.ClientCalls) != 2 {
		t.Fatalf("expected 2 client calls, got %d", len(res.ClientCalls))
	}
	if res.ClientCalls[0].ID != PrefixVisual+"a" {
		t.Errorf("visual call id = %q", res.ClientCalls[0].ID)
	}
	if res.ClientCalls[1].ID != "c" {
		t.Errorf("pass-through call id = %q", res.ClientCalls[1].ID)
	}

	if len(res.Responses) != 2 {
		t.Fatalf("expected 2 upstream responses, got %d", len(res.Responses))
	}
	ids := map[string]map[string]any{}
	for _, fr := range res.Responses {
		ids[fr.ID] = fr.Response
	}
	if _, ok := ids["a"]["result"]; !ok {
		t.Errorf("visual call not acknowledged under its original id: %v", ids)
	}
	summary, ok := ids["b"]["result"].(map[string]any)
	if !ok || summary["sessionId"] != "s1" {
		t.Errorf("unexpected summary response: %v", ids["b"])
	}
}

func TestRouterServerToolFailures(t *testing.T) {
	r := NewRouter()
	r.RegisterServerTool(declFor("explode"), func(context.Context, protocol.Args, Snapshot) (map[string]any, error) {
		panic("boom")
	})

	res := r.Route(context.Background(), []protocol.FunctionCall{
		{ID: "1", Name: "explode"},
		{ID: "2", Name: ToolExpertInsight, Args: protocol.Args{"topic": "nonsense"}},
		{ID: "3", Name: ToolExpertInsight, Args: protocol.Args{"topic": "الوعي"}},
		{ID: "4", Name: ToolExpertInsight, Args: protocol.Args{"topic": "2"}},
	}, Snapshot{})

	if len(res.Responses) != 4 {
		t.Fatalf("expected a response for every call, got %d", len(res.Responses))
	}
	if msg, _ := res.Responses[0].Response["error"].(string); !strings.Contains(msg, "boom") {
		t.Errorf("panic not converted to error: %v", res.Responses[0].Response)
	}
	if _, ok := res.Responses[1].Response["error"]; !ok {
		t.Errorf("unknown topic should fail: %v", res.Responses[1].Response)
	}
	got, _ := res.Responses[2].Response["result"].(map[string]any)
	if got["circle"] != CircleAwareness {
		t.Errorf("arabic topic resolved to %v", got["circle"])
	}
	got, _ = res.Responses[3].Response["result"].(map[string]any)
	if got["circle"] != CircleKnowledge {
		t.Errorf("numeric topic resolved to %v", got["circle"])
	}
}

func TestRouterDeclarations(t *testing.T) {
	decls := NewRouter().Declarations()
	names := map[string]bool{}
	for _, d := range decls {
		names[d.Name] = true
	}
	for _, want := range []string{ToolUpdateNode, ToolHighlightNode, ToolExpertInsight, ToolSessionSummary} {
		if !names[want] {
			t.Errorf("missing declaration %s", want)
		}
	}
}

func TestFilterResponse(t *testing.T) {
	tests := []struct {
		name string
		in   *protocol.ToolResponse
		want []string
	}{
		{"nil", nil, nil},
		{"all synthetic", &protocol.ToolResponse{FunctionResponses: []protocol.FunctionResponse{
			{ID: PrefixTranscript + "1"}, {ID: PrefixSentiment + "2"}, {ID: PrefixVisual + "3"},
		}}, nil},
		{"mixed", &protocol.ToolResponse{FunctionResponses: []protocol.FunctionResponse{
			{ID: PrefixVisual + "1"}, {ID: "real-2"}, {ID: "real-3"},
		}}, []string{"real-2", "real-3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FilterResponse(tt.in)
			if tt.want == nil {
				if got != nil {
					t.Fatalf("expected nil, got %+v", got)
				}
				return
			}
			if got == nil || len(got.FunctionResponses) != len(tt.want) {
				t.Fatalf("got %+v, want ids %v", got, tt.want)
			}
			for i, id := range tt.want {
				if got.FunctionResponses[i].ID != id {
					t.Errorf("response %d id = %q, want %q", i, got.FunctionResponses[i].ID, id)
				}
			}
		})
	}
}

func declFor(name string) repositories.ToolDeclaration {
	return repositories.ToolDeclaration{Name: name}
}
