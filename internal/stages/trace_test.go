package stages

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestTrace_InsertionOrder(t *testing.T) {
	tr := NewTrace()
	tr.OK(UploadParse, Fields{"size_bytes": 10})
	tr.OK(Preprocess, nil)
	tr.Fail(AzureReadCall, "offline")
	tr.Skip(FallbackCall)

	// Overwriting keeps the original position.
	tr.OK(UploadParse, Fields{"size_bytes": 11})

	got := strings.Join(tr.Stages(), ",")
	want := "upload_parse,preprocess,azure_read_call,fallback_call"
	if got != want {
		t.Errorf("Stages() = %s, want %s", got, want)
	}
	if tr.Len() != 4 {
		t.Errorf("Len() = %d, want 4", tr.Len())
	}
	e, _ := tr.Get(UploadParse)
	if e.Fields["size_bytes"] != 11 {
		t.Errorf("expected overwritten fields, got %v", e.Fields)
	}
}

func TestTrace_Transitions(t *testing.T) {
	t.Run("running to ok", func(t *testing.T) {
		tr := NewTrace()
		if err := tr.Running(FallbackCall); err != nil {
			t.Fatalf("Running() error = %v", err)
		}
		tr.OK(FallbackCall, nil)
		if tr.Status(FallbackCall) != StatusOK {
			t.Errorf("status = %s, want ok", tr.Status(FallbackCall))
		}
	})

	t.Run("running to error", func(t *testing.T) {
		tr := NewTrace()
		_ = tr.Running(FallbackCall)
		tr.Fail(FallbackCall, "boom")
		e, _ := tr.Get(FallbackCall)
		if e.Status != StatusError || e.Fields["reason"] != "boom" {
			t.Errorf("unexpected entry %+v", e)
		}
	})

	t.Run("terminal cannot reopen", func(t *testing.T) {
		for _, st := range []Status{StatusOK, StatusError, StatusSkipped, StatusLowConfidence} {
			tr := NewTrace()
			_ = tr.Set(AzureReadCall, st, nil)
			err := tr.Running(AzureReadCall)
			if !errors.Is(err, ErrTerminal) {
				t.Errorf("%s -> running: expected ErrTerminal, got %v", st, err)
			}
			if tr.Status(AzureReadCall) != st {
				t.Errorf("status changed to %s", tr.Status(AzureReadCall))
			}
		}
	})

	t.Run("fields are copied", func(t *testing.T) {
		tr := NewTrace()
		f := Fields{"pages": 1}
		tr.OK(PDFToImage, f)
		f["pages"] = 99
		e, _ := tr.Get(PDFToImage)
		if e.Fields["pages"] != 1 {
			t.Errorf("trace entry mutated through caller map: %v", e.Fields)
		}
	})
}

func TestTrace_ConcurrentWriters(t *testing.T) {
	tr := NewTrace()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tr.OK(fmt.Sprintf("page_%d", i), Fields{"i": i})
		}(i)
	}
	wg.Wait()
	if tr.Len() != 50 {
		t.Errorf("Len() = %d, want 50", tr.Len())
	}
}

func TestTrace_JSON(t *testing.T) {
	tr := NewTrace()
	tr.OK(UploadParse, Fields{"content_type": "image/png"})
	tr.OK(Preprocess, nil)
	tr.Fail(AzureReadCall, "Offline mode enabled")
	tr.Skip(FallbackCall)

	data, err := json.Marshal(tr)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	want := `{"upload_parse":{"content_type":"image/png","status":"ok"},"preprocess":"ok","azure_read_call":{"reason":"Offline mode enabled","status":"error"},"fallback_call":"skipped"}`
	if string(data) != want {
		t.Errorf("Marshal() =\n%s\nwant\n%s", data, want)
	}

	decoded := NewTrace()
	if err := json.Unmarshal(data, decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if strings.Join(decoded.Stages(), ",") != strings.Join(tr.Stages(), ",") {
		t.Errorf("order lost: %v", decoded.Stages())
	}
	if decoded.Status(FallbackCall) != StatusSkipped {
		t.Errorf("fallback status = %s", decoded.Status(FallbackCall))
	}
	e, _ := decoded.Get(AzureReadCall)
	if e.Status != StatusError || e.Fields["reason"] != "Offline mode enabled" {
		t.Errorf("unexpected azure entry %+v", e)
	}
}

func TestTrace_UnmarshalRejectsNonObject(t *testing.T) {
	tr := NewTrace()
	if err := json.Unmarshal([]byte(`["ok"]`), tr); err == nil {
		t.Error("expected error for array input")
	}
}

func TestTrace_YAML(t *testing.T) {
	tr := NewTrace()
	tr.OK(UploadParse, Fields{"size_bytes": 3, "content_type": "image/png"})
	tr.Skip(FallbackCall)

	out, err := yaml.Marshal(tr)
	if err != nil {
		t.Fatalf("yaml.Marshal() error = %v", err)
	}
	s := string(out)
	if strings.Index(s, "upload_parse") > strings.Index(s, "fallback_call") {
		t.Errorf("yaml order wrong:\n%s", s)
	}
	if !strings.Contains(s, "fallback_call: skipped") {
		t.Errorf("expected bare skipped status:\n%s", s)
	}
	if strings.Index(s, "status: ok") > strings.Index(s, "content_type") {
		t.Errorf("status should come first:\n%s", s)
	}
}
