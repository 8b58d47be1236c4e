package server

import (
	"os"
	"regexp"
	"strings"
	"testing"

	"mediapreview/player"
)

// The page script only posts events the session accepts; anything else is
// a 400 on every page load.
func TestPreviewScriptEventsParse(t *testing.T) {
	src, err := os.ReadFile("../static/preview.js")
	if err != nil {
		t.Fatal(err)
	}
	m := regexp.MustCompile(`(?s)const events = \[(.*?)\];`).FindSubmatch(src)
	if m == nil {
		t.Fatal("events list not found in preview.js")
	}
	names := regexp.MustCompile(`"([a-z]+)"`).FindAllSubmatch(m[1], -1)
	if len(names) == 0 {
		t.Fatal("events list is empty")
	}
	for _, n := range names {
		if _, ok := player.ParseEvent(string(n[1])); !ok {
			t.Errorf("preview.js posts %q, which the session rejects", n[1])
		}
	}
}

func TestPreviewScriptReportsClipboardFailure(t *testing.T) {
	src, err := os.ReadFile("../static/preview.js")
	if err != nil {
		t.Fatal(err)
	}
	js := string(src)
	for _, want := range []string{`clipboardError: failure`, `clipboard API unavailable`} {
		if !strings.Contains(js, want) {
			t.Errorf("preview.js missing %q", want)
		}
	}
	if strings.Contains(js, ".catch(function () {})") {
		t.Error("preview.js swallows clipboard rejections")
	}
}
