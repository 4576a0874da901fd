// Copyright 2025 Supabase, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package command

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/supabase/quackpool/go/executor"
	"github.com/supabase/quackpool/go/session"
)

type execOptions struct {
	isolation  string
	readOnly   bool
	readWrite  bool
	deferrable bool
}

// txConfig returns nil when no transaction option was given so the engine
// sees a bare BEGIN.
func (o execOptions) txConfig(cmd *cobra.Command) *session.TxConfig {
	var cfg session.TxConfig
	set := false
	if o.isolation != "" {
		cfg.IsolationLevel = session.IsolationLevel(o.isolation)
		set = true
	}
	switch {
	case o.readOnly:
		cfg.AccessMode = session.ReadOnly
		set = true
	case o.readWrite:
		cfg.AccessMode = session.ReadWrite
		set = true
	}
	if cmd.Flags().Changed("deferrable") {
		d := o.deferrable
		cfg.Deferrable = &d
		set = true
	}
	if !set {
		return nil
	}
	return &cfg
}

type execResult struct {
	Statement    int              `json:"statement" yaml:"statement"`
	RowsAffected int64            `json:"rows_affected" yaml:"rows_affected"`
	Rows         []map[string]any `json:"rows,omitempty" yaml:"rows,omitempty"`
}

// AddExecCommand adds the exec command to root.
func AddExecCommand(root *cobra.Command, qc *QuackpoolCommand) {
	var opts execOptions
	cmd := &cobra.Command{
		Use:   "exec SQL [SQL...]",
		Short: "Run statements in one transaction",
		Long: `Run each argument as a statement inside a single transaction on one pinned
connection. The transaction commits only if every statement succeeds.`,
		Example: `  quackpool exec "CREATE TABLE t (id INTEGER)" "INSERT INTO t VALUES (1)"`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			txCfg := opts.txConfig(cmd)
			if err := txCfg.Validate(); err != nil {
				return err
			}
			return qc.withEnv(cmd.Context(), func(ctx context.Context, e *env) error {
				return runExec(ctx, qc, e, cmd, args, txCfg)
			})
		},
	}
	cmd.Flags().StringVar(&opts.isolation, "isolation-level", "", "Transaction isolation level (read uncommitted, read committed, repeatable read, serializable)")
	cmd.Flags().BoolVar(&opts.readOnly, "read-only", false, "Start the transaction READ ONLY")
	cmd.Flags().BoolVar(&opts.readWrite, "read-write", false, "Start the transaction READ WRITE")
	cmd.Flags().BoolVar(&opts.deferrable, "deferrable", false, "Start the transaction DEFERRABLE (or NOT DEFERRABLE with --deferrable=false)")
	cmd.MarkFlagsMutuallyExclusive("read-only", "read-write")
	root.AddCommand(cmd)
}

func runExec(ctx context.Context, qc *QuackpoolCommand, e *env, cmd *cobra.Command, stmts []string, txCfg *session.TxConfig) error {
	results, err := session.InTransaction(ctx, e.session, func(ctx context.Context, tx *session.Session) ([]execResult, error) {
		out := make([]execResult, 0, len(stmts))
		for i, stmt := range stmts {
			res, err := tx.Execute(ctx, session.Q(stmt))
			if err != nil {
				return nil, err
			}
			out = append(out, execResult{
				Statement:    i + 1,
				RowsAffected: res.RowsAffected,
				Rows:         executor.Records(res.Columns, res.Rows),
			})
		}
		return out, nil
	}, txCfg)
	if err != nil {
		return err
	}

	enc, err := newEncoder(qc.cfg.Output(), cmd.OutOrStdout())
	if err != nil {
		return err
	}
	for _, r := range results {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return enc.Close()
}
