// Package criteria parses and evaluates the exit-status expressions that
// control when a retried command should stop being repeated.
//
// A criteria string is a comma-separated list of terms. Each term is one of
// the literals "success"/"true" (exit status 0), "fail"/"false" (any non-zero
// status), a single non-negative integer, or an inclusive range "lo-hi" of
// non-negative integers. A status matches the criteria if it matches any
// term.
package criteria

import (
	"fmt"
	"strconv"
	"strings"
)

type term interface {
	match(status int) bool
}

type successTerm struct{}

func (successTerm) match(status int) bool { return status == 0 }

type failTerm struct{}

func (failTerm) match(status int) bool { return status != 0 }

type codeTerm int

func (c codeTerm) match(status int) bool { return status == int(c) }

type rangeTerm struct {
	lo, hi int
}

func (r rangeTerm) match(status int) bool { return status >= r.lo && status <= r.hi }

// Spec is a parsed criteria expression. Matching is a pure function of the
// exit status, so a Spec can be evaluated once per attempt without state.
type Spec struct {
	source string
	terms  []term
}

// Parse validates and compiles a criteria string. It is called once at
// configuration time; an error here means the user input is invalid and no
// attempt should run.
func Parse(s string) (*Spec, error) {
	spec := &Spec{source: s}
	for _, tok := range strings.Split(s, ",") {
		t, err := parseTerm(tok)
		if err != nil {
			return nil, err
		}
		spec.terms = append(spec.terms, t)
	}
	return spec, nil
}

func parseTerm(tok string) (term, error) {
	switch tok {
	case "success", "true":
		return successTerm{}, nil
	case "fail", "false":
		return failTerm{}, nil
	}

	lo, hi, isRange := strings.Cut(tok, "-")
	loN, err := strconv.Atoi(lo)
	if err != nil || loN < 0 {
		return nil, fmt.Errorf("invalid criteria term %q: expected 'success', 'true', 'fail', 'false', a number, or a range", tok)
	}
	if !isRange {
		return codeTerm(loN), nil
	}
	hiN, err := strconv.Atoi(hi)
	if err != nil || hiN < 0 {
		return nil, fmt.Errorf("invalid criteria range %q: bounds must be non-negative numbers", tok)
	}
	return rangeTerm{lo: loN, hi: hiN}, nil
}

// Match reports whether the exit status satisfies any term of the criteria.
func (s *Spec) Match(status int) bool {
	for _, t := range s.terms {
		if t.match(status) {
			return true
		}
	}
	return false
}

func (s *Spec) String() string {
	return s.source
}
