package main

import (
	"os"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/ahrav/go-ensemble/internal/domain"
)

type ui struct {
	title func(a ...any) string
	ok    func(a ...any) string
	info  func(a ...any) string
	warn  func(a ...any) string
	err   func(a ...any) string
	dim   func(a ...any) string
}

func newUI(noColor bool) *ui {
	if noColor {
		color.NoColor = true
	}
	return &ui{
		title: color.New(color.FgHiCyan, color.Bold).SprintFunc(),
		ok:    color.New(color.FgGreen, color.Bold).SprintFunc(),
		info:  color.New(color.FgCyan).SprintFunc(),
		warn:  color.New(color.FgYellow).SprintFunc(),
		err:   color.New(color.FgRed, color.Bold).SprintFunc(),
		dim:   color.New(color.FgHiBlack).SprintFunc(),
	}
}

// status colors a worker result status.
func (u *ui) status(s domain.ResultStatus) string {
	switch s {
	case domain.StatusSuccess:
		return u.ok(string(s))
	case domain.StatusAnomaly, domain.StatusTimeout:
		return u.warn(string(s))
	default:
		return u.err(string(s))
	}
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
