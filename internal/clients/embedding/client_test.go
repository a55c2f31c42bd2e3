package embedding

import (
	"encoding/json"
	"testing"

	"github.com/lifequery/backend/internal/data/repos/testutil"
)

func TestNewClient_NormalizesURL(t *testing.T) {
	log := testutil.Logger(t)
	cases := []struct {
		in, want string
	}{
		{"http://localhost:11434", "http://localhost:11434/v1"},
		{"http://localhost:11434/", "http://localhost:11434/v1"},
		{"http://localhost:11434/v1", "http://localhost:11434/v1"},
		{"https://api.openai.com/v1/", "https://api.openai.com/v1"},
	}
	for _, tc := range cases {
		cl, err := NewClient(tc.in, "embed-model", log)
		if err != nil {
			t.Fatalf("NewClient(%q): %v", tc.in, err)
		}
		if got := cl.(*client).baseURL; got != tc.want {
			t.Fatalf("NewClient(%q) base = %q, want %q", tc.in, got, tc.want)
		}
	}

	if _, err := NewClient("", "embed-model", log); err == nil {
		t.Fatalf("expected error for missing url")
	}
	if _, err := NewClient("http://localhost:11434", "  ", log); err == nil {
		t.Fatalf("expected error for missing model")
	}
}

func parseResp(t *testing.T, raw string) embeddingsResponse {
	t.Helper()
	var resp embeddingsResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		t.Fatalf("bad fixture: %v", err)
	}
	return resp
}

func TestAssembleByIndex_ReordersByIndex(t *testing.T) {
	resp := parseResp(t, `{"data":[
		{"embedding":[2],"index":1},
		{"embedding":[1],"index":0}
	]}`)
	out := assembleByIndex(resp, 2)
	if out[0][0] != 1 || out[1][0] != 2 {
		t.Fatalf("rows not reassembled by index: %v", out)
	}
	if hasMissingEmbeddings(out) {
		t.Fatalf("nothing should be missing: %v", out)
	}
}

func TestAssembleByIndex_PositionalWhenIndexless(t *testing.T) {
	// Index field absent on every row: request order applies.
	resp := parseResp(t, `{"data":[
		{"embedding":[7]},
		{"embedding":[8]}
	]}`)
	out := assembleByIndex(resp, 2)
	if out[0][0] != 7 || out[1][0] != 8 {
		t.Fatalf("index-less response not taken in request order: %v", out)
	}
}

func TestAssembleByIndex_MissingRowLeavesGap(t *testing.T) {
	resp := parseResp(t, `{"data":[{"embedding":[5],"index":1}]}`)
	out := assembleByIndex(resp, 2)
	if !hasMissingEmbeddings(out) {
		t.Fatalf("dropped row should leave a gap for the retry: %v", out)
	}
	if out[1][0] != 5 {
		t.Fatalf("present row landed wrong: %v", out)
	}
}
