package phrase

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Neural  Network", "neural network"},
		{"  машинное\tобучение ", "машинное обучение"},
		{"", ""},
		{"   ", ""},
		{"ОБУЧЕНИЕ", "обучение"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSharedTokens(t *testing.T) {
	if n := SharedTokens("глубокий нейронный сеть", "нейронный сеть"); n != 2 {
		t.Errorf("shared = %d, want 2", n)
	}
	if n := SharedTokens("сеть сеть", "сеть"); n != 1 {
		t.Errorf("duplicate tokens counted twice: %d", n)
	}
	if n := SharedTokens("метод", "алгоритм"); n != 0 {
		t.Errorf("shared = %d, want 0", n)
	}
}

func TestTableIntern(t *testing.T) {
	tab := NewTable()

	a, ok := tab.Intern("Neural Network")
	if !ok {
		t.Fatal("intern failed")
	}
	b, _ := tab.Intern("neural   network")
	if a != b {
		t.Fatalf("case/whitespace variants got different ids: %d vs %d", a, b)
	}
	if got := tab.Display(a); got != "Neural Network" {
		t.Errorf("display = %q, want first-seen form", got)
	}
	if got := tab.Normalized(a); got != "neural network" {
		t.Errorf("normalized = %q", got)
	}

	if _, ok := tab.Intern("  "); ok {
		t.Error("empty phrase should not intern")
	}
	if _, ok := tab.Lookup("missing"); ok {
		t.Error("lookup of unknown phrase should fail")
	}
	if tab.Len() != 1 {
		t.Errorf("len = %d, want 1", tab.Len())
	}
	if tab.Display(None) != "" {
		t.Error("display of None should be empty")
	}
}

func TestTableLess(t *testing.T) {
	tab := NewTable()
	b, _ := tab.Intern("beta")
	a, _ := tab.Intern("Alpha")
	if !tab.Less(a, b) {
		t.Error("expected Alpha < beta case-insensitively")
	}
	if tab.Less(b, a) {
		t.Error("expected beta > Alpha")
	}
}
