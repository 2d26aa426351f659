package handlers

import (
	"errors"
	"fmt"
	"testing"

	"dora/internal/core"
	"dora/internal/persistence"
	"dora/internal/pipeline"
)

func TestRootRegistersCommands(t *testing.T) {
	root := NewRootCmd()
	for _, name := range []string{"embed", "reduce", "cluster", "label", "group", "status", "export", "serve", "migrate"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("command %q not registered", name)
		}
	}
}

func TestStageCommandsShareScopeFlags(t *testing.T) {
	root := NewRootCmd()
	for _, name := range []string{"reduce", "cluster", "label", "group"} {
		cmd, _, _ := root.Find([]string{name})
		for _, flag := range []string{"company", "type", "dimensions"} {
			if cmd.Flags().Lookup(flag) == nil {
				t.Errorf("%s is missing --%s", name, flag)
			}
		}
	}
	cluster, _, _ := root.Find([]string{"cluster"})
	if cluster.Flags().Lookup("force") != nil {
		t.Error("cluster always replaces its scope and takes no --force")
	}
}

func TestScopeFlags(t *testing.T) {
	tests := []struct {
		name    string
		flags   scopeFlags
		want    core.Scope
		wantErr bool
	}{
		{
			name:  "reduced",
			flags: scopeFlags{company: "wispr", kind: "use-cases", dimensions: 5},
			want:  core.Scope{Company: "wispr", Kind: core.KindUseCases, EmbeddingType: core.EmbeddingReduced, Dimensions: 5},
		},
		{
			name:  "original",
			flags: scopeFlags{company: "wispr", kind: "complaints", dimensions: 1536},
			want:  core.Scope{Company: "wispr", Kind: core.KindComplaints, EmbeddingType: core.EmbeddingOriginal, Dimensions: 1536},
		},
		{name: "unknown kind", flags: scopeFlags{company: "wispr", kind: "features", dimensions: 5}, wantErr: true},
		{name: "missing company", flags: scopeFlags{kind: "complaints", dimensions: 5}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.flags.scope()
			if (err != nil) != tt.wantErr {
				t.Fatalf("scope() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("scope() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestFinishStage(t *testing.T) {
	if err := finishStage(nil); err != nil {
		t.Errorf("nil should stay nil, got %v", err)
	}
	if err := finishStage(fmt.Errorf("%w: no clusters", pipeline.ErrNothingToDo)); err != nil {
		t.Errorf("nothing to do should be a notice, got %v", err)
	}
	if err := finishStage(fmt.Errorf("%w: \"nobody\"", persistence.ErrCompanyNotFound)); err != nil {
		t.Errorf("unknown company should be a notice, got %v", err)
	}
	boom := errors.New("disk full")
	if err := finishStage(boom); !errors.Is(err, boom) {
		t.Errorf("other errors should pass through, got %v", err)
	}
}
