package model

import "testing"

func TestListOptions_Clamp(t *testing.T) {
	tests := []struct {
		name      string
		input     ListOptions
		wantLimit int
		wantOffset int
	}{
		{"defaults", ListOptions{Limit: 0, Offset: 0}, 20, 0},
		{"negative limit", ListOptions{Limit: -5, Offset: 0}, 20, 0},
		{"over max", ListOptions{Limit: 200, Offset: 0}, 100, 0},
		{"negative offset", ListOptions{Limit: 10, Offset: -3}, 10, 0},
		{"valid", ListOptions{Limit: 50, Offset: 10}, 50, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.input.Clamp()
			if tt.input.Limit != tt.wantLimit {
				t.Errorf("Limit = %d, want %d", tt.input.Limit, tt.wantLimit)
			}
			if tt.input.Offset != tt.wantOffset {
				t.Errorf("Offset = %d, want %d", tt.input.Offset, tt.wantOffset)
			}
		})
	}
}

func TestDefaultListOptions(t *testing.T) {
	opts := DefaultListOptions()
	if opts.Limit != 20 {
		t.Errorf("Limit = %d, want 20", opts.Limit)
	}
	if opts.Offset != 0 {
		t.Errorf("Offset = %d, want 0", opts.Offset)
	}
}

func TestJobSpec_Validate(t *testing.T) {
	tests := []struct {
		name    string
		spec    JobSpec
		wantErr []string
	}{
		{"empty", JobSpec{}, []string{"tasks"}},
		{"valid", JobSpec{Tasks: []TaskSpec{{Host: "h1", Kind: CommandExecute, Target: "echo"}}}, nil},
		{"missing host", JobSpec{Tasks: []TaskSpec{{Kind: CommandStart, Target: "DATANODE"}}}, []string{"tasks[0].host"}},
		{"bad kind", JobSpec{Tasks: []TaskSpec{{Host: "h1", Kind: "REBOOT"}}}, []string{"tasks[0].kind"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := tt.spec.Validate()
			if len(errs) != len(tt.wantErr) {
				t.Fatalf("Validate() = %v, want fields %v", errs, tt.wantErr)
			}
			for i, fe := range errs {
				if fe.Field != tt.wantErr[i] {
					t.Errorf("errs[%d].Field = %q, want %q", i, fe.Field, tt.wantErr[i])
				}
			}
		})
	}
}

func TestCommand_Key(t *testing.T) {
	a := Command{ID: "cmd_1", JobID: "job_1", Host: "h1", Kind: CommandStart, Target: "NAMENODE"}
	b := Command{ID: "cmd_2", JobID: "job_1", Host: "h1", Kind: CommandStart, Target: "NAMENODE",
		Params: map[string]string{"retry": "1"}}
	c := Command{ID: "cmd_3", JobID: "job_1", Host: "h1", Kind: CommandStop, Target: "NAMENODE"}

	if !a.Equal(b) {
		t.Error("commands with the same job, kind and target should be equal")
	}
	if a.Equal(c) {
		t.Error("commands with different kinds should not be equal")
	}
	if got, want := a.Key().String(), "job_1/START/NAMENODE"; got != want {
		t.Errorf("Key().String() = %q, want %q", got, want)
	}
}

func TestCommandKindValid(t *testing.T) {
	for _, k := range []CommandKind{CommandExecute, CommandStatusCheck, CommandStart, CommandStop, CommandInstall} {
		if !k.Valid() {
			t.Errorf("%s should be valid", k)
		}
	}
	if CommandStatusCheck != "STATUS" {
		t.Errorf("CommandStatusCheck = %q, want STATUS", CommandStatusCheck)
	}
	if CommandKind("REBOOT").Valid() {
		t.Error("REBOOT should be invalid")
	}
	if CommandStatus("STATUS").Valid() {
		t.Error("STATUS is a command kind, not a reportable status")
	}
}
