package normalize

import "testing"

func TestText(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"blank", " \t\n ", ""},
		{"case", "MATHÉMATIQUES", "mathématiques"},
		{"spaces", "  Physique   -\tChimie \n", "physique - chimie"},
		{"fullwidth", "ＭＡＴＨ　１０１", "math 101"},
		{"decomposed", "Franc\u0327ais", "fran\u00e7ais"},
		{"ligature", "ﬁnance", "finance"},
		{"sharp s", "Straße", "strasse"},
		{"invalid utf8", "Sal\xffle", "salle"},
		{"unit separator", "a\x1fb", "a b"},
		{"control runs", "Math\x00\x1f\x7f101", "math 101"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Text(c.in); got != c.want {
				t.Fatalf("Text(%q) = %q, want %q", c.in, got, c.want)
			}
		})
	}
}

func TestTextIdempotent(t *testing.T) {
	for _, in := range []string{"Histoire-Géo", "  ＡＢ  c ", "Éducation Physique"} {
		once := Text(in)
		if twice := Text(once); twice != once {
			t.Fatalf("Text not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestGroupsOrderInsensitive(t *testing.T) {
	a := Groups([]string{"Groupe B", " groupe  a"})
	b := Groups([]string{"GROUPE A", "groupe b"})
	if a != b {
		t.Fatalf("Groups differ: %q vs %q", a, b)
	}
	if a != "groupe a|groupe b" {
		t.Fatalf("Groups = %q", a)
	}
	if Groups(nil) != "" {
		t.Fatalf("Groups(nil) should be empty")
	}
}
