// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/repoaudit/internal/graph"
)

func runStatus(cmd *cobra.Command, args []string) error {
	auditUUID := args[0]

	store, err := newStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	audit, err := store.GetAudit(cmd.Context(), auditUUID)
	switch {
	case errors.Is(err, graph.ErrAuditNotFound):
		return fmt.Errorf("no audit with UUID %s", auditUUID)
	case errors.Is(err, graph.ErrStatusIntegrity):
		return fmt.Errorf("audit %s has corrupted status data: %w", auditUUID, err)
	case err != nil:
		return err
	}

	cmd.Printf("audit: %s\nrepository: %s\nstatus: %s\ncreated: %s\n",
		audit.UUID, audit.RepositoryURL, audit.Status, audit.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	return nil
}
