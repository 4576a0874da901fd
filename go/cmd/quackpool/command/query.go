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

// AddQueryCommand adds the query command to root.
func AddQueryCommand(root *cobra.Command, qc *QuackpoolCommand) {
	root.AddCommand(&cobra.Command{
		Use:   "query SQL [ARG...]",
		Short: "Stream the rows of a query",
		Long: `Stream the rows of a single query, one record per row.

Rows are pulled from the engine in chunks of --rows-per-chunk so that large
results never sit in memory at once. Positional arguments after the query are
bound to its parameters as text.`,
		Example: `  quackpool query "SELECT * FROM events WHERE kind = ?" click
  quackpool query --output yaml --rows-per-chunk 1000 "SELECT * FROM big"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return qc.withEnv(cmd.Context(), func(ctx context.Context, e *env) error {
				return runQuery(ctx, qc, e, cmd, args)
			})
		},
	})
}

func runQuery(ctx context.Context, qc *QuackpoolCommand, e *env, cmd *cobra.Command, args []string) error {
	enc, err := newEncoder(qc.cfg.Output(), cmd.OutOrStdout())
	if err != nil {
		return err
	}

	stream, err := e.session.Stream(ctx, session.Q(args[0], stringArgs(args[1:])...))
	if err != nil {
		return err
	}

	chunks, rows := 0, 0
	for chunk, err := range stream.Chunks(ctx) {
		if err != nil {
			return err
		}
		chunks++
		rows += len(chunk)
		for _, rec := range executor.Records(stream.Columns(), chunk) {
			if err := enc.Encode(rec); err != nil {
				return err
			}
		}
	}
	qc.logger.Debug("query finished", "chunks", chunks, "rows", rows)
	return enc.Close()
}
