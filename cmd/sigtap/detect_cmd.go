package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/sigtap/internal/core"
)

var detectCmd = &cobra.Command{
	Use:   "detect <file>...",
	Short: "Show how the encoding of data files is detected",
	Long: `Score every candidate encoding against the leading lines of each file
and show the one an import would use.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDetect,
}

func runDetect(cmd *cobra.Command, args []string) error {
	detector, err := core.NewEncodingDetector(cfg.Import.SampleLines, cfg.Import.DefaultEncoding)
	if err != nil {
		return err
	}
	detector.Logger = logger

	for _, path := range args {
		sample, err := detector.ReadSample(path)
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, renderScores(path, detector.Scores(sample), detector.DetectBytes(sample)))
	}
	return nil
}

func renderScores(path string, scores []core.EncodingScore, chosen core.Encoding) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		Headers("ENCODING", "SCORE", "USABLE").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})

	for _, s := range scores {
		name := s.Encoding.Name
		if name == chosen.Name {
			name = successStyle.Render(name + " *")
		}
		score := "-"
		if s.Usable {
			score = strconv.Itoa(s.Score)
		}
		t.Row(name, score, strconv.FormatBool(s.Usable))
	}

	return titleStyle.Render(path) + "\n" + t.String()
}
