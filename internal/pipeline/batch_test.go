package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	baseRef = `<doc><members>` +
		`<member name="M:Base.Run"><summary>Runs.</summary><param name="x">base x</param></member>` +
		`</members></doc>`
	derivedTarget = `<doc><members>` +
		`<member name="M:Derived.Run"><inheritdoc cref="M:Base.Run"/><param name="x">derived x</param></member>` +
		`</members></doc>`
)

func outputs(t *testing.T, res *Result) map[string]string {
	t.Helper()
	out := make(map[string]string, len(res.Trees))
	for _, tr := range res.Trees {
		if tr.Err != nil {
			t.Fatalf("unexpected error for %s: %v", tr.Name, tr.Err)
		}
		out[tr.Name] = string(tr.Output)
	}
	return out
}

func TestRun_ResolvesFromReferences(t *testing.T) {
	res, err := Run(context.Background(), Batch{
		Targets:    []Source{{Name: "Derived.xml", Data: []byte(derivedTarget)}},
		References: []Source{{Name: "Base.xml", Data: []byte(baseRef)}},
	}, Options{}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	want := map[string]string{
		"Derived.xml": `<doc><members>` +
			`<member name="M:Derived.Run"><summary>Runs.</summary><param name="x">derived x</param></member>` +
			`</members></doc>`,
	}
	if diff := cmp.Diff(want, outputs(t, res)); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}
	tr := res.Trees[0]
	if !tr.Changed {
		t.Error("expected Changed")
	}
	if tr.Report.Resolved != 1 || tr.Report.Removed != 1 {
		t.Errorf("expected 1 resolved and 1 removed, got %+v", tr.Report)
	}
	if res.Members != 2 {
		t.Errorf("expected 2 members, got %d", res.Members)
	}
}

func TestRun_UnchangedTarget(t *testing.T) {
	src := `<doc><members><member name="A"><summary>a</summary></member></members></doc>`
	res, err := Run(context.Background(), Batch{
		Targets: []Source{{Name: "A.xml", Data: []byte(src)}},
	}, Options{}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	tr := res.Trees[0]
	if tr.Changed {
		t.Errorf("expected unchanged output, got %s", tr.Output)
	}
	if string(tr.Output) != src {
		t.Errorf("expected %s, got %s", src, tr.Output)
	}
}

func TestRun_CrossTargetMembers(t *testing.T) {
	res, err := Run(context.Background(), Batch{
		Targets: []Source{
			{Name: "Base.xml", Data: []byte(baseRef)},
			{Name: "Derived.xml", Data: []byte(derivedTarget)},
		},
	}, Options{Concurrency: 2}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	got := outputs(t, res)
	if got["Base.xml"] != baseRef {
		t.Errorf("expected Base.xml untouched, got %s", got["Base.xml"])
	}
	if res.Trees[1].Report.Resolved != 1 {
		t.Errorf("expected Derived.xml to resolve from Base.xml, got %+v", res.Trees[1].Report)
	}
}

func TestRun_InFileChain(t *testing.T) {
	src := `<doc><members>` +
		`<member name="C"><summary>from C</summary></member>` +
		`<member name="B"><inheritdoc cref="C"/></member>` +
		`<member name="A"><inheritdoc cref="B"/></member>` +
		`</members></doc>`
	want := `<doc><members>` +
		`<member name="C"><summary>from C</summary></member>` +
		`<member name="B"><summary>from C</summary></member>` +
		`<member name="A"><summary>from C</summary></member>` +
		`</members></doc>`

	res, err := Run(context.Background(), Batch{
		Targets: []Source{{Name: "Chain.xml", Data: []byte(src)}},
	}, Options{Passes: 1}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if diff := cmp.Diff(want, outputs(t, res)["Chain.xml"]); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}
	tr := res.Trees[0]
	if tr.Report.Resolved != 2 || len(tr.Report.Unresolved) != 0 {
		t.Errorf("expected 2 resolved and none left, got %+v", tr.Report)
	}

	again, err := Run(context.Background(), Batch{
		Targets: []Source{{Name: "Chain.xml", Data: tr.Output}},
	}, Options{Passes: 1}, nil)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if again.Trees[0].Changed {
		t.Errorf("expected second run to be a no-op, got %s", again.Trees[0].Output)
	}
}

func TestRun_CrossTargetChain(t *testing.T) {
	// A.xml inherits from B.xml, which itself inherits from a reference.
	// Other targets are seen as they were before resolution started.
	batch := Batch{
		Targets: []Source{
			{Name: "A.xml", Data: []byte(`<doc><members><member name="A"><inheritdoc cref="B"/></member></members></doc>`)},
			{Name: "B.xml", Data: []byte(`<doc><members><member name="B"><inheritdoc cref="C"/><remarks>b</remarks></member></members></doc>`)},
		},
		References: []Source{
			{Name: "C.xml", Data: []byte(`<doc><members><member name="C"><summary>c</summary></member></members></doc>`)},
		},
	}
	resolvedB := `<doc><members><member name="B"><summary>c</summary><remarks>b</remarks></member></members></doc>`

	cases := []struct {
		passes     int
		wantA      string
		unresolved []string
	}{
		{1, `<doc><members><member name="A"><inheritdoc cref="C" /><remarks>b</remarks></member></members></doc>`, []string{"C"}},
		{2, `<doc><members><member name="A"><summary>c</summary><remarks>b</remarks></member></members></doc>`, nil},
	}
	for _, tc := range cases {
		res, err := Run(context.Background(), batch, Options{Passes: tc.passes, Concurrency: 2}, nil)
		if err != nil {
			t.Fatalf("passes=%d: run: %v", tc.passes, err)
		}
		want := map[string]string{"A.xml": tc.wantA, "B.xml": resolvedB}
		if diff := cmp.Diff(want, outputs(t, res)); diff != "" {
			t.Errorf("passes=%d: output mismatch (-want +got):\n%s", tc.passes, diff)
		}
		if diff := cmp.Diff(tc.unresolved, res.Trees[0].Report.Unresolved); diff != "" {
			t.Errorf("passes=%d: unresolved mismatch (-want +got):\n%s", tc.passes, diff)
		}
	}
}

func TestRun_FailuresAreIsolated(t *testing.T) {
	res, err := Run(context.Background(), Batch{
		Targets: []Source{
			{Name: "Broken.xml", Data: []byte(`<doc><member>`)},
			{Name: "Derived.xml", Data: []byte(derivedTarget)},
			{Name: "notes.txt", Data: []byte("plain")},
		},
		References: []Source{
			{Name: "Base.xml", Data: []byte(baseRef)},
			{Name: "Bad.xml", Data: []byte(`<doc>`)},
		},
	}, Options{}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	failed := res.Failed()
	if len(failed) != 2 {
		t.Fatalf("expected 2 failed targets, got %d", len(failed))
	}
	if failed[0].Name != "Broken.xml" || failed[1].Name != "notes.txt" {
		t.Errorf("unexpected failed targets %q, %q", failed[0].Name, failed[1].Name)
	}
	if res.Trees[1].Err != nil || res.Trees[1].Report.Resolved != 1 {
		t.Errorf("expected Derived.xml to resolve, got %+v", res.Trees[1])
	}
	if diff := cmp.Diff([]string{"Bad.xml"}, res.SkippedReferences); diff != "" {
		t.Errorf("skipped mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_DuplicatePrecedence(t *testing.T) {
	target := `<doc><members>` +
		`<member name="M:Dup"><summary>target</summary></member>` +
		`<member name="M:User"><inheritdoc cref="M:Dup"/></member>` +
		`</members></doc>`
	ref := `<doc><members><member name="M:Dup"><summary>reference</summary></member></members></doc>`

	cases := []struct {
		name string
		opts Options
		want string
	}{
		{"targets then references, last wins", Options{}, "reference"},
		{"references first, last wins", Options{ReferencesFirst: true}, "target"},
		{"targets then references, first wins", Options{FirstWins: true}, "target"},
		{"references first, first wins", Options{ReferencesFirst: true, FirstWins: true}, "reference"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := Run(context.Background(), Batch{
				Targets:    []Source{{Name: "T.xml", Data: []byte(target)}},
				References: []Source{{Name: "R.xml", Data: []byte(ref)}},
			}, tc.opts, nil)
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			want := `<doc><members>` +
				`<member name="M:Dup"><summary>target</summary></member>` +
				`<member name="M:User"><summary>` + tc.want + `</summary></member>` +
				`</members></doc>`
			if diff := cmp.Diff(want, outputs(t, res)["T.xml"]); diff != "" {
				t.Errorf("output mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff([]string{"M:Dup"}, res.Duplicates); diff != "" {
				t.Errorf("duplicates mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, Batch{
		Targets: []Source{{Name: "Derived.xml", Data: []byte(derivedTarget)}},
	}, Options{}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
