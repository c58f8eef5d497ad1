package report

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDiff(t *testing.T) {
	remote := "a\nb\nc\n"
	local := "a\nB\nc\nd\n"
	want := []Part{
		{Text: "a\n", Kind: KindUnchanged},
		{Text: "b\n", Kind: KindRemoved},
		{Text: "B\n", Kind: KindAdded},
		{Text: "c\n", Kind: KindUnchanged},
		{Text: "d\n", Kind: KindAdded},
	}
	got := Diff(local, remote)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Diff() mismatch (-want +got):\n%s", diff)
	}
	if Unchanged(got) {
		t.Error("Unchanged() = true for differing texts")
	}
}

func TestDiffNoOp(t *testing.T) {
	texts := []string{
		"",
		"single line",
		"function f() {\n  return 1;\n}\n",
		"\n\n\n",
	}
	for _, x := range texts {
		parts := Diff(x, x)
		if !Unchanged(parts) {
			t.Errorf("Diff(%q, %q) has changes: %v", x, x, parts)
		}
		var joined strings.Builder
		for _, p := range parts {
			joined.WriteString(p.Text)
		}
		if joined.String() != x {
			t.Errorf("Diff(%q, %q) parts join to %q", x, x, joined.String())
		}
	}
}

func TestDiffMissingRemote(t *testing.T) {
	got := Diff("new\n", "")
	want := []Part{{Text: "new\n", Kind: KindAdded}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Diff() mismatch (-want +got):\n%s", diff)
	}
}

func TestReport(t *testing.T) {
	results := []Result{
		{Entity: "Same", Parts: Diff("x\n", "x\n")},
		{Entity: "Filter scopes", Parts: Diff("a\nB\n", "a\nb\n")},
		{Entity: "Also same", Parts: nil},
		{Entity: "New", Parts: Diff("n", "")},
	}
	var buf bytes.Buffer
	r := NewReporter(&buf)
	upToDate := r.Report("rules", results)

	if diff := cmp.Diff([]string{"Same", "Also same"}, upToDate); diff != "" {
		t.Errorf("Report() up-to-date mismatch (-want +got):\n%s", diff)
	}
	want := `[[ Changed rules ]]
- Filter scopes:
----------------
 a
-b
+B
- New:
------
+n
`
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("Report() output mismatch (-want +got):\n%s", diff)
	}
}

func TestReportAllUpToDate(t *testing.T) {
	var buf bytes.Buffer
	upToDate := NewReporter(&buf).Report("db", []Result{{Entity: "Parfit", Parts: Diff("x", "x")}})
	if diff := cmp.Diff([]string{"Parfit"}, upToDate); diff != "" {
		t.Errorf("Report() up-to-date mismatch (-want +got):\n%s", diff)
	}
	if buf.Len() != 0 {
		t.Errorf("Report() printed %q for unchanged results", buf.String())
	}
}

func TestAction(t *testing.T) {
	tests := []struct {
		name   string
		exists bool
		want   string
	}{
		{"Log Context", true, "Rule Log Context exists " + strings.Repeat(".", 36) + " (updating)\n"},
		{"Add Default Role To All Users Of Every App", false, "Rule Add Default Role To All Use... doesnt exist " + strings.Repeat(".", 11) + " (creating)\n"},
		{"Función", true, "Rule Función exists " + strings.Repeat(".", 40) + " (updating)\n"},
		{"Añadir rol predeterminado a todos", false, "Rule Añadir rol predeterminado a... doesnt exist " + strings.Repeat(".", 11) + " (creating)\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			NewReporter(&buf).Action("Rule", tc.name, tc.exists)
			if diff := cmp.Diff(tc.want, buf.String()); diff != "" {
				t.Errorf("Action() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestReportColors(t *testing.T) {
	var buf bytes.Buffer
	r := newReporter(&buf, true)
	r.Report("rules", []Result{{Entity: "Filter scopes", Parts: Diff("a\nB\n", "a\nb\n")}})
	r.Action("Rule", "Filter scopes", true)
	out := buf.String()
	for _, want := range []string{"\x1b[36mFilter scopes", "\x1b[90m a\n", "\x1b[91m-b\n", "\x1b[32m+B\n", "\x1b[33m(updating)"} {
		if !strings.Contains(out, want) {
			t.Errorf("Report() output lacks %q:\n%q", want, out)
		}
	}

	buf.Reset()
	newReporter(&buf, false).Action("Rule", "Filter scopes", true)
	if strings.Contains(buf.String(), "\x1b[") {
		t.Errorf("Action() without colors printed escape codes: %q", buf.String())
	}
}

func TestReportMultiByteUnderline(t *testing.T) {
	var buf bytes.Buffer
	NewReporter(&buf).Report("rules", []Result{{Entity: "Función", Parts: Diff("x\n", "")}})
	want := "[[ Changed rules ]]\n- Función:\n----------\n+x\n"
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("Report() output mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteMarkdownAndHTML(t *testing.T) {
	sections := []Section{
		{Category: "rules", Results: []Result{
			{Entity: "Changed rule", Parts: Diff("a\nb\n", "a\n")},
			{Entity: "Same rule", Parts: Diff("a\n", "a\n")},
		}},
		{Category: "login", Results: []Result{
			{Entity: "Universal Login", Parts: Diff("<p>\n", "<p>\n")},
		}},
	}
	var md bytes.Buffer
	if err := WriteMarkdown(&md, "Tenant diff", sections); err != nil {
		t.Fatalf("WriteMarkdown() failed: %v", err)
	}
	want := "# Tenant diff\n\n" +
		"## rules\n\n" +
		"### Changed rule\n\n```diff\n a\n+b\n```\n\n" +
		"Up to date:\n\n- Same rule\n\n" +
		"## login\n\n" +
		"No changes.\n\n" +
		"Up to date:\n\n- Universal Login\n\n"
	if diff := cmp.Diff(want, md.String()); diff != "" {
		t.Errorf("WriteMarkdown() mismatch (-want +got):\n%s", diff)
	}

	var html bytes.Buffer
	if err := WriteHTML(&html, "Tenant diff", sections); err != nil {
		t.Fatalf("WriteHTML() failed: %v", err)
	}
	for _, s := range []string{"<title>Tenant diff</title>", "<h2>rules</h2>", `<code class="language-diff">`, "<li>Same rule</li>"} {
		if !strings.Contains(html.String(), s) {
			t.Errorf("WriteHTML() output does not contain %q:\n%s", s, html.String())
		}
	}
}
