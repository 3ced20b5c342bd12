package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/noot-app/allergen-scanner/internal/allergen"
	"github.com/noot-app/allergen-scanner/internal/collection"
	"github.com/noot-app/allergen-scanner/internal/config"
	"github.com/noot-app/allergen-scanner/internal/scanner"
	"github.com/noot-app/allergen-scanner/internal/server"
	"github.com/noot-app/allergen-scanner/internal/types"
	"github.com/noot-app/allergen-scanner/internal/version"
	"github.com/spf13/cobra"
)

// withService initializes a runtime for one subcommand and releases it afterwards.
// Logs go to stderr so command output stays clean.
func withService(cmd *cobra.Command, fn func(ctx context.Context, svc *scanner.Service) error) error {
	logger := config.NewTextLogger(cmd.ErrOrStderr())
	cfg := config.Load()

	rt, err := server.NewServerInitializer(cfg, logger).Initialize(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()

	return fn(cmd.Context(), rt.Service)
}

func newScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan <barcode>",
		Short: "Look a food up by barcode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, svc *scanner.Service) error {
				food, found := svc.ScanBarcode(ctx, args[0])
				if !found {
					fmt.Fprintln(cmd.OutOrStdout(), scanner.NotFoundMessage)
					return nil
				}
				printView(cmd, svc.Inspect(ctx, food))
				return nil
			})
		},
	}
}

func newSearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <query...>",
		Short: "Search foods by product name or brand",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return withService(cmd, func(ctx context.Context, svc *scanner.Service) error {
				foods := svc.Search(ctx, query)
				if len(foods) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "No foods found for %q\n", query)
					return nil
				}
				for i, food := range foods {
					if i > 0 {
						fmt.Fprintln(cmd.OutOrStdout())
					}
					printView(cmd, svc.Inspect(ctx, food))
				}
				return nil
			})
		},
	}
}

// collectionOps adapts one personal collection to the shared list/toggle command
type collectionOps struct {
	list   func(svc *scanner.Service, ctx context.Context) []types.Food
	toggle func(svc *scanner.Service, ctx context.Context, barcode string) (types.Food, collection.ToggleResult, error)
	label  string
}

var favoritesCollection = collectionOps{
	list:   (*scanner.Service).Favorites,
	toggle: (*scanner.Service).ToggleFavoriteByBarcode,
	label:  "favorites",
}

var safeCollection = collectionOps{
	list:   (*scanner.Service).SafeFoods,
	toggle: (*scanner.Service).ToggleSafeByBarcode,
	label:  "safe foods",
}

func newCollectionCmd(use, short string, ops collectionOps) *cobra.Command {
	listCmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, svc *scanner.Service) error {
				foods := ops.list(svc, ctx)
				if len(foods) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "No %s yet\n", ops.label)
					return nil
				}
				for _, food := range foods {
					fmt.Fprintf(cmd.OutOrStdout(), "%s  %s (%s)\n", food.Barcode, food.Name, food.Brand)
				}
				return nil
			})
		},
	}

	listCmd.AddCommand(&cobra.Command{
		Use:   "toggle <barcode>",
		Short: "Add the food, or remove it if already present",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, svc *scanner.Service) error {
				food, result, err := ops.toggle(svc, ctx, args[0])
				if errors.Is(err, scanner.ErrFoodNotFound) {
					fmt.Fprintln(cmd.OutOrStdout(), scanner.NotFoundMessage)
					return nil
				}
				if err != nil {
					return err
				}

				verb := "Removed from"
				if result.Present {
					verb = "Added to"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %s\n", verb, ops.label, food.Name)
				if !result.Persisted {
					fmt.Fprintln(cmd.OutOrStdout(), "Warning: the change could not be saved")
				}
				return nil
			})
		},
	})

	return listCmd
}

func newAllergensCmd() *cobra.Command {
	allergensCmd := &cobra.Command{
		Use:   "allergens",
		Short: "Show which allergens are monitored",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, svc *scanner.Service) error {
				prefs := svc.Preferences(ctx)
				for _, name := range allergen.Names() {
					fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s\n", checkbox(prefs.Monitored(name)), name)
				}
				return nil
			})
		},
	}

	allergensCmd.AddCommand(&cobra.Command{
		Use:   "toggle <name>",
		Short: "Turn monitoring of one allergen on or off",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.Join(args, " ")
			return withService(cmd, func(ctx context.Context, svc *scanner.Service) error {
				canonical, toggled, err := svc.ToggleAllergen(ctx, name)
				if err != nil {
					return fmt.Errorf("%w; valid names: %s", err, strings.Join(allergen.Names(), ", "))
				}
				state := "no longer monitored"
				if toggled.Enabled {
					state = "monitored"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s is %s\n", canonical, state)
				if !toggled.Persisted {
					fmt.Fprintln(cmd.OutOrStdout(), "Warning: the change could not be saved")
				}
				return nil
			})
		},
	})

	return allergensCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}

func printView(cmd *cobra.Command, v scanner.View) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", v.Food.Name, v.Food.Brand)
	fmt.Fprintf(cmd.OutOrStdout(), "Barcode: %s\n", v.Food.Barcode)

	if v.Assessment.HasWarning {
		names := make([]string, 0, len(v.Assessment.Allergens))
		for _, a := range v.Assessment.Allergens {
			names = append(names, a.Name)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", v.Summary, strings.Join(names, ", "))
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), v.Summary)
	}

	if len(v.Food.Ingredients) > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "Ingredients: %s\n", strings.Join(v.Food.Ingredients, ", "))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Favorite: %s  Safe: %s\n", yesNo(v.Favorite), yesNo(v.Safe))
}

func checkbox(b bool) string {
	if b {
		return "x"
	}
	return " "
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
