package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/exoxegroup/eng-ai/internal/domain"
	"github.com/exoxegroup/eng-ai/internal/repo"
	"github.com/exoxegroup/eng-ai/internal/services"
)

var (
	exportFormat  string
	exportOut     string
	exportMirrors bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Dump all sessions with their transcripts for offline research",
	RunE:  runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "json", "output format: json or yaml")
	exportCmd.Flags().StringVarP(&exportOut, "output", "o", "", "output file (default stdout)")
	exportCmd.Flags().BoolVar(&exportMirrors, "include-mirror", false, "also export sessions only present in the local mirror")
}

// exportDoc is the exported document. Mirrored sessions are listed apart
// because the store has not accepted them yet.
type exportDoc struct {
	Sessions []domain.Session `json:"sessions"`
	Mirrored []domain.Session `json:"mirrored,omitempty"`
}

func runExport(cmd *cobra.Command, _ []string) error {
	format := strings.ToLower(strings.TrimSpace(exportFormat))
	if format != "json" && format != "yaml" {
		return fmt.Errorf("unknown format %q (want json or yaml)", exportFormat)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, mirror, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer closeDB(db)
	defer mirror.Close()

	ctx := cmd.Context()
	sessions, err := services.NewSessionService(db).All(ctx)
	if err != nil {
		return err
	}
	doc := exportDoc{Sessions: sessions}
	if doc.Sessions == nil {
		doc.Sessions = []domain.Session{}
	}
	if exportMirrors {
		recs, err := mirror.List(ctx)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			s, err := repo.Decode(rec)
			if err != nil {
				return fmt.Errorf("decode mirrored %s: %w", rec.SessionID, err)
			}
			doc.Mirrored = append(doc.Mirrored, *s)
		}
	}

	w := cmd.OutOrStdout()
	if exportOut != "" {
		f, err := os.Create(exportOut)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	return writeExport(w, format, doc)
}

// writeExport encodes doc. YAML goes through the JSON form first so both
// formats share the same field names.
func writeExport(w io.Writer, format string, doc exportDoc) error {
	if format == "yaml" {
		raw, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer func() { _ = enc.Close() }()
		return enc.Encode(generic)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
