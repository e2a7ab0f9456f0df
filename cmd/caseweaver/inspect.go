package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"caseweaver/internal/config"
	"caseweaver/internal/schema"
	"caseweaver/internal/store"
)

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <case.json>",
		Short: "Validate a case model file against the structural schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var payload any
			if err := json.Unmarshal(data, &payload); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}

			result := schema.CaseDocument().Validate(payload)
			if result.Valid {
				fmt.Println("valid")
				return nil
			}
			for _, violation := range result.Errors {
				fmt.Println(violation)
			}
			return fmt.Errorf("%d violation(s)", len(result.Errors))
		},
	}
}

func runsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flagConfig)
			if err != nil {
				return err
			}
			st, err := store.Open(cfg.Store.DatabasePath)
			if err != nil {
				return err
			}
			defer st.Close()

			runs, err := st.ListRuns(limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("no runs recorded")
				return nil
			}
			for _, r := range runs {
				fmt.Printf("%s  %-8s  rev=%d  cost=%.4f  %s  %s\n",
					r.ID, r.Status, r.Revisions, r.TotalCost,
					r.CreatedAt.Format("2006-01-02 15:04"), r.Premise)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list")
	return cmd
}

func referenceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reference",
		Short: "Manage the reference cases the similarity gate compares against",
	}

	add := &cobra.Command{
		Use:   "add <id> <case.json>",
		Short: "Add or replace a reference case",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			var artifact map[string]any
			if err := json.Unmarshal(data, &artifact); err != nil {
				return fmt.Errorf("parse %s: %w", args[1], err)
			}

			// Only structurally valid cases belong in the reference pool.
			if result := schema.CaseDocument().Validate(any(artifact)); !result.Valid {
				for _, violation := range result.Errors {
					fmt.Println(violation)
				}
				return fmt.Errorf("reference case is invalid")
			}

			cfg, err := config.Load(flagConfig)
			if err != nil {
				return err
			}
			st, err := store.Open(cfg.Store.DatabasePath)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.SaveReference(args[0], artifact); err != nil {
				return err
			}
			fmt.Printf("reference %s saved\n", args[0])
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List reference cases",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flagConfig)
			if err != nil {
				return err
			}
			st, err := store.Open(cfg.Store.DatabasePath)
			if err != nil {
				return err
			}
			defer st.Close()

			refs, err := st.ListReferences()
			if err != nil {
				return err
			}
			if len(refs) == 0 {
				fmt.Println("no reference cases")
				return nil
			}
			for _, ref := range refs {
				title := ""
				if caseObj, ok := ref.Artifact["CASE"].(map[string]any); ok {
					title, _ = caseObj["title"].(string)
				}
				fmt.Printf("%s  %s\n", ref.ID, title)
			}
			return nil
		},
	}

	cmd.AddCommand(add, list)
	return cmd
}
