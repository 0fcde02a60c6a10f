package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/raphaelgruber/catalogbridge/internal/models"
	"github.com/raphaelgruber/catalogbridge/internal/schema"
	"github.com/spf13/cobra"
)

var schemaJSON bool

var schemaCmd = &cobra.Command{
	Use:   "schema <category-id>",
	Short: "Fetch and print a category's attribute schema",
	Long: `Fetch a category's attribute schema from the marketplace.

Examples:
  catalogbridge schema CBT1004
  catalogbridge schema CBT1004 --json`,
	Args: cobra.ExactArgs(1),
	RunE: runSchema,
}

func init() {
	schemaCmd.Flags().BoolVar(&schemaJSON, "json", false, "print the schema as JSON")
}

func runSchema(cmd *cobra.Command, args []string) error {
	store := schema.NewStore(newMarketplace(), collector, logger)
	sc, err := store.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if schemaJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sc)
	}
	printSchema(sc)
	return nil
}

func printSchema(sc *models.AttributeSchema) {
	ids := make([]string, 0, len(sc.Attributes))
	for id := range sc.Attributes {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	fmt.Println(theme.title().Render(fmt.Sprintf("Category %s", sc.CategoryID)))
	fmt.Printf("%-28s %-18s %-10s %s\n", "ATTRIBUTE", "TYPE", "FLAGS", "VALUES")
	fmt.Println(strings.Repeat("-", 80))
	for _, id := range ids {
		spec := sc.Attributes[id]
		var flags []string
		if spec.Required {
			flags = append(flags, "req")
		}
		if spec.Critical {
			flags = append(flags, "crit")
		}
		var values string
		switch {
		case len(spec.Values) > 0:
			values = fmt.Sprintf("%d options", len(spec.Values))
		case len(spec.Units) > 0:
			values = strings.Join(spec.Units, ", ")
		}
		fmt.Printf("%-28s %-18s %-10s %s\n", id, spec.ValueType, strings.Join(flags, ","), values)
	}
	fmt.Println(theme.hint().Render(fmt.Sprintf("%d attributes, %d required", len(ids), len(sc.Required()))))
}
