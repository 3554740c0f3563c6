package encoding

import (
	"encoding/json"
	"sync"
	"testing"
)

type taggedEvent struct {
	Channel string `json:"channel"`
	Message string `json:"msg"`
}

func TestUnmarshal_LooseStrings(t *testing.T) {
	data, err := Marshal(map[string]interface{}{"name": "alice"})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var out interface{}
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	m, ok := out.(map[string]interface{})
	if !ok {
		t.Fatalf("expected map, got %T", out)
	}
	if _, isString := m["name"].(string); !isString {
		t.Errorf("expected string value, got %T", m["name"])
	}
}

func TestMarshal_UsesJSONTags(t *testing.T) {
	data, err := Marshal(taggedEvent{Channel: "alerts", Message: "hi"})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var out map[string]interface{}
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if out["channel"] != "alerts" || out["msg"] != "hi" {
		t.Errorf("expected json tag names, got %v", out)
	}
}

func TestCodecFor(t *testing.T) {
	for _, format := range []string{"", "json", "msgpack"} {
		c, err := CodecFor(format)
		if err != nil {
			t.Fatalf("CodecFor(%q) failed: %v", format, err)
		}
		if _, err := c.Marshal(taggedEvent{Channel: "a"}); err != nil {
			t.Errorf("%s marshal failed: %v", c.Name(), err)
		}
	}

	if _, err := CodecFor("xml"); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestJSONCodecShape(t *testing.T) {
	c, _ := CodecFor("json")
	data, err := c.Marshal(taggedEvent{Channel: "alerts", Message: "hi"})
	if err != nil {
		t.Fatal(err)
	}

	var out map[string]string
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if out["channel"] != "alerts" || out["msg"] != "hi" {
		t.Errorf("unexpected payload %s", data)
	}
	if c.ContentType() != "application/json" {
		t.Errorf("unexpected content type %s", c.ContentType())
	}
}

func TestMarshal_Concurrent(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			data, err := Marshal(map[string]int{"n": n})
			if err != nil {
				t.Errorf("Marshal failed: %v", err)
				return
			}
			var out map[string]int
			if err := Unmarshal(data, &out); err != nil || out["n"] != n {
				t.Errorf("round trip mismatch for %d: %v %v", n, out, err)
			}
		}(i)
	}
	wg.Wait()
}
