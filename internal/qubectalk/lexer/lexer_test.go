package lexer

import "testing"

func TestNextSkipsCommentsAndWhitespace(t *testing.T) {
	toks := Tokens("# a comment\n  set manufacture to 10 kg")
	var kinds []Kind
	for _, tok := range toks {
		kinds = append(kinds, tok.Kind)
	}
	want := []Kind{Keyword, Keyword, Keyword, Number, Keyword, EOF}
	if len(kinds) != len(want) {
		t.Fatalf("got %d tokens, want %d: %v", len(kinds), len(want), kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("token %d: got %v want %v", i, kinds[i], want[i])
		}
	}
}

func TestLexNumberDecimal(t *testing.T) {
	toks := Tokens("3.14")
	if toks[0].Kind != Number || toks[0].Literal != "3.14" {
		t.Fatalf("got %+v", toks[0])
	}
}

func TestLexStringEscapes(t *testing.T) {
	toks := Tokens(`"line\nbreak"`)
	if toks[0].Kind != String {
		t.Fatalf("got kind %v", toks[0].Kind)
	}
	if toks[0].Literal != "line\nbreak" {
		t.Fatalf("got literal %q", toks[0].Literal)
	}
}

func TestLexUnterminatedString(t *testing.T) {
	toks := Tokens(`"oops`)
	if toks[0].Kind != Illegal {
		t.Fatalf("expected Illegal, got %v", toks[0].Kind)
	}
}

func TestKeywordsCaseInsensitive(t *testing.T) {
	toks := Tokens("SET Manufacture TO")
	if toks[0].Kind != Keyword || toks[0].Literal != "set" {
		t.Fatalf("got %+v", toks[0])
	}
}

func TestComparisonOperators(t *testing.T) {
	toks := Tokens("== != <= >= < >")
	want := []Kind{EqEq, NotEq, LtEq, GtEq, Lt, Gt, EOF}
	for i, k := range want {
		if toks[i].Kind != k {
			t.Errorf("token %d: got %v want %v", i, toks[i].Kind, k)
		}
	}
}

func TestIdentifierNotKeyword(t *testing.T) {
	toks := Tokens("commercialRefrigeration")
	if toks[0].Kind != Identifier {
		t.Fatalf("got %+v", toks[0])
	}
}
