package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/paperbase/paperbase/cmd/paperbase/ui"
	"github.com/paperbase/paperbase/internal/kb"
	"github.com/paperbase/paperbase/internal/storage"
)

var addScanned bool

var kbCmd = &cobra.Command{
	Use:   "kb",
	Short: "Manage knowledge bases",
}

var kbCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new knowledge base",
	Args:  cobra.ExactArgs(1),
	RunE:  runKBCreate,
}

var kbAddCmd = &cobra.Command{
	Use:   "add <kb-name> <pdf-path>",
	Short: "Add a PDF document to a knowledge base",
	Long: `Add a PDF document to a knowledge base. The file is copied into the
knowledge base directory. Documents added with --scanned enter the
conversion queue as pending; everything else never needs conversion.`,
	Args: cobra.ExactArgs(2),
	RunE: runKBAdd,
}

var kbListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all knowledge bases",
	Args:  cobra.NoArgs,
	RunE:  runKBList,
}

var kbDocsCmd = &cobra.Command{
	Use:   "docs <kb-name>",
	Short: "List a knowledge base's documents with their conversion state",
	Args:  cobra.ExactArgs(1),
	RunE:  runKBDocs,
}

var kbFilesCmd = &cobra.Command{
	Use:   "files <kb-name>",
	Short: "List a knowledge base's queryable files",
	Long: `List the file each document currently resolves to: the converted
artifact when it exists on disk, otherwise the original PDF.`,
	Args: cobra.ExactArgs(1),
	RunE: runKBFiles,
}

func init() {
	kbAddCmd.Flags().BoolVar(&addScanned, "scanned", false, "document is a scanned PDF needing OCR conversion")

	kbCmd.AddCommand(kbCreateCmd)
	kbCmd.AddCommand(kbAddCmd)
	kbCmd.AddCommand(kbListCmd)
	kbCmd.AddCommand(kbDocsCmd)
	kbCmd.AddCommand(kbFilesCmd)
	rootCmd.AddCommand(kbCmd)
}

func runKBCreate(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	mgr := kb.NewManager(e.cfg.Storage.BaseDir, e.repos, e.logger)
	created, err := mgr.CreateKnowledgeBase(context.Background(), args[0])
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return fmt.Errorf("knowledge base %q already exists", args[0])
		}
		return err
	}

	ui.Success("Knowledge base %q created", created.Name)
	ui.KeyValue("Directory", created.Directory)
	return nil
}

func runKBAdd(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	mgr := kb.NewManager(e.cfg.Storage.BaseDir, e.repos, e.logger)
	doc, err := mgr.AddDocument(context.Background(), args[0], args[1], addScanned)
	if err != nil {
		return err
	}

	ui.Success("Document %q added to %q (id %d)", doc.OriginalFilename, args[0], doc.ID)
	ui.KeyValue("Conversion", string(doc.ConversionStatus))
	return nil
}

func runKBList(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	mgr := kb.NewManager(e.cfg.Storage.BaseDir, e.repos, e.logger)
	kbs, err := mgr.List(context.Background())
	if err != nil {
		return err
	}

	if len(kbs) == 0 {
		ui.Info("No knowledge bases yet. Create one with: paperbase kb create <name>")
		return nil
	}

	rows := make([][]string, 0, len(kbs))
	for _, k := range kbs {
		rows = append(rows, []string{
			strconv.FormatInt(k.ID, 10),
			k.Name,
			k.Directory,
			k.CreatedAt.Format(time.RFC3339),
		})
	}
	ui.Table([]string{"ID", "NAME", "DIRECTORY", "CREATED"}, rows)
	return nil
}

func runKBDocs(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	mgr := kb.NewManager(e.cfg.Storage.BaseDir, e.repos, e.logger)
	docs, err := mgr.Documents(context.Background(), args[0])
	if err != nil {
		return err
	}

	if len(docs) == 0 {
		ui.Info("Knowledge base %q has no documents", args[0])
		return nil
	}

	rows := make([][]string, 0, len(docs))
	for _, d := range docs {
		converted := "-"
		if d.ConvertedPath != nil {
			converted = *d.ConvertedPath
		}
		rows = append(rows, []string{
			strconv.FormatInt(d.ID, 10),
			d.OriginalFilename,
			string(d.ConversionStatus),
			fmt.Sprintf("%.1f%%", d.ConversionProgress),
			converted,
		})
	}
	ui.Table([]string{"ID", "FILE", "STATUS", "PROGRESS", "CONVERTED"}, rows)
	return nil
}

func runKBFiles(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	mgr := kb.NewManager(e.cfg.Storage.BaseDir, e.repos, e.logger)
	files, err := mgr.Files(context.Background(), args[0])
	if err != nil {
		return err
	}

	if len(files) == 0 {
		ui.Info("Knowledge base %q has no files on disk", args[0])
		return nil
	}
	for _, f := range files {
		fmt.Println(f)
	}
	return nil
}
