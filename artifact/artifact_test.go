package artifact

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/use-agent/glance/models"
)

var fixedNow = func() time.Time { return time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC) }

func TestSanitize(t *testing.T) {
	tests := []struct{ in, want string }{
		{"octocat/Hello-World", "octocat_Hello-World"},
		{"openlibrary.org", "openlibrary.org"},
		{"example.com/a b/c?d", "example.com_a_b_c_d"},
		{"//", "target"},
		{"ünï/cödé", "n_c_d"},
	}
	for _, tt := range tests {
		if got := Sanitize(tt.in); got != tt.want {
			t.Errorf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNamer_Format(t *testing.T) {
	n := NewNamerWithClock(fixedNow)
	got := n.Next("reports", "octocat_Hello-World", models.ArtifactResults)
	want := filepath.Join("reports", "octocat_Hello-World_results_2024-03-09_14-05-07")
	if got != want {
		t.Errorf("Next() = %q, want %q", got, want)
	}
}

func TestNamer_UniqueWithinSameSecond(t *testing.T) {
	n := NewNamerWithClock(fixedNow)

	const workers = 50
	var mu sync.Mutex
	seen := make(map[string]bool, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name := n.Next("out", "same", models.ArtifactScreenshot)
			mu.Lock()
			defer mu.Unlock()
			if seen[name] {
				t.Errorf("duplicate name issued: %s", name)
			}
			seen[name] = true
		}()
	}
	wg.Wait()

	if len(seen) != workers {
		t.Errorf("got %d unique names, want %d", len(seen), workers)
	}
	if !seen[filepath.Join("out", "same_screenshot_2024-03-09_14-05-07-2")] {
		t.Error("expected -2 suffix for the second name")
	}
}

func TestStore_WriteCreatesDirAndSkipsExisting(t *testing.T) {
	root := filepath.Join(t.TempDir(), "reports")
	// A file left behind by an earlier process with the same second.
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatal(err)
	}
	stale := filepath.Join(root, "site_screenshot_2024-03-09_14-05-07.png")
	if err := os.WriteFile(stale, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := NewStore(root, false, NewNamerWithClock(fixedNow))
	art, err := s.Write(models.ArtifactScreenshot, "site", ".png", []byte("new"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if art.Path == stale {
		t.Fatal("existing file was reused")
	}
	if !strings.HasSuffix(art.Path, "-2.png") {
		t.Errorf("path = %s, want -2 suffix", art.Path)
	}
	if b, _ := os.ReadFile(stale); string(b) != "old" {
		t.Error("existing file was overwritten")
	}
	if art.Bytes != 3 {
		t.Errorf("bytes = %d", art.Bytes)
	}
}

func TestStore_SplitByKind(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root, true, NewNamerWithClock(fixedNow))

	shot, err := s.Write(models.ArtifactScreenshot, "a", ".png", []byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	vid, err := s.Write(models.ArtifactVideo, "a", ".webm", []byte("y"))
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Dir(shot.Path) != filepath.Join(root, "screenshots") {
		t.Errorf("screenshot dir = %s", filepath.Dir(shot.Path))
	}
	if filepath.Dir(vid.Path) != filepath.Join(root, "videos") {
		t.Errorf("video dir = %s", filepath.Dir(vid.Path))
	}
}

func TestRenderText(t *testing.T) {
	got := RenderText(models.ScrapeResult{Issues: []string{"Bug A", "Bug B"}})
	want := "Issues:\nBug A\nBug B\n\nPull Requests:\nNo pull requests found.\n"
	if got != want {
		t.Errorf("RenderText() =\n%q\nwant\n%q", got, want)
	}

	got = RenderText(models.ScrapeResult{})
	want = "Issues:\nNo issues found.\n\nPull Requests:\nNo pull requests found.\n"
	if got != want {
		t.Errorf("RenderText(empty) =\n%q\nwant\n%q", got, want)
	}
}

func TestResults_JSONAndTextAgree(t *testing.T) {
	tests := []models.ScrapeResult{
		{Issues: []string{"one", "two", "three"}, PRs: []string{"pr-1"}},
		{Issues: nil, PRs: []string{"Pull Requests:", "Issues:"}},
		{},
	}

	for i, r := range tests {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			js, err := MarshalResults(r)
			if err != nil {
				t.Fatal(err)
			}
			var fromJSON models.ScrapeResult
			if err := json.Unmarshal(js, &fromJSON); err != nil {
				t.Fatal(err)
			}
			fromText, err := ParseText(RenderText(r))
			if err != nil {
				t.Fatalf("ParseText: %v", err)
			}
			if strings.Join(fromJSON.Issues, "\x00") != strings.Join(fromText.Issues, "\x00") {
				t.Errorf("issues differ: json=%q text=%q", fromJSON.Issues, fromText.Issues)
			}
			if strings.Join(fromJSON.PRs, "\x00") != strings.Join(fromText.PRs, "\x00") {
				t.Errorf("prs differ: json=%q text=%q", fromJSON.PRs, fromText.PRs)
			}
		})
	}
}

func TestMarshalResults_Indent(t *testing.T) {
	js, err := MarshalResults(models.ScrapeResult{Issues: []string{"x"}})
	if err != nil {
		t.Fatal(err)
	}
	want := "{\n    \"issues\": [\n        \"x\"\n    ],\n    \"prs\": []\n}"
	if string(js) != want {
		t.Errorf("MarshalResults() =\n%s\nwant\n%s", js, want)
	}
}

func TestStore_WriteResultsSharesStem(t *testing.T) {
	s := NewStore(t.TempDir(), false, NewNamerWithClock(fixedNow))
	arts, err := s.WriteResults("octocat_Hello-World", models.ScrapeResult{Issues: []string{"a"}})
	if err != nil {
		t.Fatalf("WriteResults: %v", err)
	}
	if len(arts) != 2 {
		t.Fatalf("got %d artifacts", len(arts))
	}
	jsonStem := strings.TrimSuffix(arts[0].Path, ".json")
	textStem := strings.TrimSuffix(arts[1].Path, ".txt")
	if jsonStem != textStem {
		t.Errorf("stems differ: %s vs %s", jsonStem, textStem)
	}
	if !strings.HasSuffix(jsonStem, "octocat_Hello-World_results_2024-03-09_14-05-07") {
		t.Errorf("unexpected stem %s", jsonStem)
	}
}

func TestResults_SentinelTitle(t *testing.T) {
	r := models.ScrapeResult{Issues: []string{"No issues found."}, PRs: []string{}}

	fromText, err := ParseText(RenderText(r))
	if err != nil {
		t.Fatal(err)
	}
	if len(fromText.Issues) != 0 {
		t.Errorf("text form should collapse the sentinel title, got %q", fromText.Issues)
	}

	s := NewStore(t.TempDir(), false, NewNamerWithClock(fixedNow))
	arts, err := s.WriteResults("o_r", r)
	if err != nil {
		t.Fatal(err)
	}
	got, err := ReadResults(arts[0].Path)
	if err != nil {
		t.Fatalf("ReadResults: %v", err)
	}
	if len(got.Issues) != 1 || got.Issues[0] != "No issues found." {
		t.Errorf("issues = %q, want the sentinel title kept", got.Issues)
	}
}

func TestReadResults_TextMismatch(t *testing.T) {
	s := NewStore(t.TempDir(), false, NewNamerWithClock(fixedNow))
	arts, err := s.WriteResults("o_r", models.ScrapeResult{Issues: []string{"a"}})
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(arts[1].Path, []byte("Issues:\nb\n\nPull Requests:\nNo pull requests found.\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadResults(arts[0].Path); err == nil {
		t.Error("expected mismatch error")
	}
}

func TestParseText_Malformed(t *testing.T) {
	if _, err := ParseText("garbage"); err == nil {
		t.Error("expected error for missing header")
	}
	if _, err := ParseText("Issues:\na\n"); err == nil {
		t.Error("expected error for missing pull requests section")
	}
}

func TestImprint(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 200, 100))
	for x := 0; x < 200; x++ {
		for y := 0; y < 100; y++ {
			src.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		t.Fatal(err)
	}

	out, err := Imprint(buf.Bytes(), "https://example.com:443/path")
	if err != nil {
		t.Fatalf("Imprint: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 200 || img.Bounds().Dy() != 100+imprintPadding*2+imprintBorder {
		t.Errorf("bounds = %v", img.Bounds())
	}
}

func TestImprintCaption(t *testing.T) {
	tests := []struct{ in, want string }{
		{"https://example.com:443/a", "https://example.com"},
		{"http://example.com:8080/", "http://example.com:8080"},
		{"https://github.com/o/r/issues", "https://github.com"},
	}
	for _, tt := range tests {
		got, err := imprintCaption(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("imprintCaption(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}
