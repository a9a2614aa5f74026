package sqladapter

import "testing"

func TestIsSelectLike(t *testing.T) {
	t.Parallel()
	cases := map[string]bool{
		"SELECT 1":                  true,
		"  select * from t":         true,
		"SHOW TABLES":               true,
		"describe t":                true,
		"EXPLAIN SELECT 1":          true,
		"WITH cte AS (SELECT 1) SELECT * FROM cte": true,
		"INSERT INTO t VALUES (1)":  false,
		"UPDATE t SET a=1":          false,
		"DELETE FROM t":             false,
		"CREATE TABLE t (a INT)":    false,
	}
	for q, want := range cases {
		if got := isSelectLike(q); got != want {
			t.Errorf("isSelectLike(%q) = %v, want %v", q, got, want)
		}
	}
}

func TestIdentifierRE(t *testing.T) {
	t.Parallel()
	if !identifierRE.MatchString("users") {
		t.Error("expected plain identifier to match")
	}
	if identifierRE.MatchString("users; DROP TABLE x") {
		t.Error("expected injection attempt to be rejected")
	}
}

func TestBaseTypeName(t *testing.T) {
	t.Parallel()
	if got := baseTypeName("varchar(255)"); got != "VARCHAR" {
		t.Errorf("baseTypeName = %q", got)
	}
	if got := baseTypeName("int"); got != "INT" {
		t.Errorf("baseTypeName = %q", got)
	}
}
