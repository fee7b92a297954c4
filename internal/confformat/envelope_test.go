package confformat

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/allaspects/confplane/internal/confio"
)

func openLoader(t *testing.T, content string) *confio.Loader {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "conf")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	l, err := confio.Open(path, nil, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return l
}

func TestParseLineEnvelopeBasic(t *testing.T) {
	l := openLoader(t, "urlprefs 3\ncount 2\nhttp://a.example\nhttp://b.example\n")
	env, err := ParseLineEnvelope(l, "urlprefs")
	if err != nil {
		t.Fatalf("ParseLineEnvelope: %v", err)
	}
	if env.Version != "3" || env.Count != 2 {
		t.Fatalf("version=%q count=%d", env.Version, env.Count)
	}
	if len(env.Body) != 2 {
		t.Fatalf("body = %v, want 2 lines", env.Body)
	}
}

func TestParseLineEnvelopeWithSections(t *testing.T) {
	l := openLoader(t, "geoip 1\n[country:1]\n1.2.3.0/24\n[country:1]\n5.6.7.0/24\n")
	env, err := ParseLineEnvelope(l, "geoip")
	if err != nil {
		t.Fatalf("ParseLineEnvelope: %v", err)
	}
	if len(env.Sections["country"]) != 2 {
		t.Fatalf("country section = %v, want 2 accumulated lines", env.Sections["country"])
	}
	if env.Sections["country"][0] != "1.2.3.0/24" || env.Sections["country"][1] != "5.6.7.0/24" {
		t.Fatalf("country section = %v", env.Sections["country"])
	}
}

func TestParseLineEnvelopeRejectsSectionCountMismatch(t *testing.T) {
	l := openLoader(t, "geoip 1\n[country:2]\n1.2.3.0/24\n[urls:0]\n")
	if _, err := ParseLineEnvelope(l, "geoip"); err == nil {
		t.Fatal("expected an error when a section declares 2 lines but only 1 was consumed")
	}
}

func TestParseLineEnvelopeAcceptsEmptyDeclaredSection(t *testing.T) {
	l := openLoader(t, "geoip 1\ncount 1\n[country:0]\n[urls:1]\nhttp://a.example\n")
	env, err := ParseLineEnvelope(l, "geoip")
	if err != nil {
		t.Fatalf("ParseLineEnvelope: %v", err)
	}
	if len(env.Sections["country"]) != 0 {
		t.Fatalf("country section = %v, want empty", env.Sections["country"])
	}
}

func TestParseLineEnvelopeMetaSection(t *testing.T) {
	l := openLoader(t, "geoip 1\n[meta:2]\nname acme\nowner someone\n[data:1]\n1.2.3.0/24\n")
	env, err := ParseLineEnvelope(l, "geoip")
	if err != nil {
		t.Fatalf("ParseLineEnvelope: %v", err)
	}
	if env.Name != "acme" {
		t.Fatalf("Name = %q, want acme", env.Name)
	}
	if len(env.Sections["data"]) != 1 {
		t.Fatalf("data section = %v, want 1 line", env.Sections["data"])
	}
}

func TestParseLineEnvelopeMetaCountMismatch(t *testing.T) {
	l := openLoader(t, "geoip 1\n[meta:3]\nname acme\nowner someone\n")
	if _, err := ParseLineEnvelope(l, "geoip"); err == nil {
		t.Fatal("expected an error when the meta section declares more pairs than the file has")
	}
}

func TestFieldsTrimsInlineComment(t *testing.T) {
	got := Fields("1.2.3.4 IT # primary record")
	want := []string{"1.2.3.4", "IT"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestFieldsKeepsHashInsideQuotes(t *testing.T) {
	got := Fields(`foo "bar#baz"`)
	want := []string{"foo", "bar#baz"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestParseLineEnvelopeTypeMismatchIsParseError(t *testing.T) {
	l := openLoader(t, "other 1\n")
	_, err := ParseLineEnvelope(l, "urlprefs")
	if err == nil {
		t.Fatal("expected a type-mismatch error")
	}
}

func TestParseLineEnvelopeCountMismatch(t *testing.T) {
	l := openLoader(t, "urlprefs 1\ncount 5\nonly-one-line\n")
	_, err := ParseLineEnvelope(l, "urlprefs")
	if err == nil {
		t.Fatal("expected a count-mismatch error")
	}
}

func TestParseJSONEnvelope(t *testing.T) {
	l := openLoader(t, `{"osversion": {"major": 7}, "version": [1.0]}`)
	env, err := ParseJSONEnvelope(l, "osversion")
	if err != nil {
		t.Fatalf("ParseJSONEnvelope: %v", err)
	}
	if env.Version != 1.0 {
		t.Fatalf("version = %v, want 1.0", env.Version)
	}
}

func TestParseJSONEnvelopeNonNumericVersionIsParseError(t *testing.T) {
	l := openLoader(t, `{"osversion": {}, "version": ["bad"]}`)
	_, err := ParseJSONEnvelope(l, "osversion")
	if err == nil {
		t.Fatal("expected a parse error for a non-numeric version element")
	}
}

func TestFieldsHonorsQuoting(t *testing.T) {
	got := Fields(`foo "bar baz" qux`)
	want := []string{"foo", "bar baz", "qux"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
