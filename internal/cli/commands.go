package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	domain "github.com/h7-ecom/api/internal/domain"
	"github.com/h7-ecom/api/internal/services"
)

const cliActor = "ordersctl"

func newMigrateCmd(deps runtimeDeps, flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openRuntime(ctx, deps, flags, false)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			if rt.backend.Postgres == nil {
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "store driver %s has no schema to migrate\n", rt.cfg.Store.Driver)
				return err
			}
			if err := rt.backend.Postgres.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return err
		},
	}
}

// productSeed is one entry of a seed file.
type productSeed struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Price string `yaml:"price"`
	Stock int    `yaml:"stock"`
}

type seedFile struct {
	Products []productSeed `yaml:"products"`
}

func parseSeedFile(data []byte) ([]domain.Product, error) {
	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	products := make([]domain.Product, 0, len(file.Products))
	for i, seed := range file.Products {
		if strings.TrimSpace(seed.ID) == "" {
			return nil, fmt.Errorf("product %d: id is required", i)
		}
		price := decimal.Zero
		if seed.Price != "" {
			parsed, err := decimal.NewFromString(seed.Price)
			if err != nil {
				return nil, fmt.Errorf("product %s: invalid price %q: %w", seed.ID, seed.Price, err)
			}
			price = parsed
		}
		products = append(products, domain.Product{ID: seed.ID, Name: seed.Name, Price: price, Stock: seed.Stock})
	}
	return products, nil
}

func newSeedCmd(deps runtimeDeps, flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <products.yaml>",
		Short: "Upsert products and stock levels from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read seed file: %w", err)
			}
			products, err := parseSeedFile(data)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			rt, err := openRuntime(ctx, deps, flags, true)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			if err := rt.container.Services.Inventory.UpsertProducts(ctx, products); err != nil {
				return fmt.Errorf("seed products: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "seeded %d products\n", len(products))
			return err
		},
	}
}

func newTransitionCmd(deps runtimeDeps, flags *rootFlags) *cobra.Command {
	var (
		notes string
		actor string
	)
	cmd := &cobra.Command{
		Use:   "transition <orderID> <status>",
		Short: "Move an order to a new status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := domain.ParseOrderStatus(args[1])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			rt, err := openRuntime(ctx, deps, flags, true)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			transition := services.OrderTransitionCommand{OrderID: args[0], TargetStatus: &status, ActorID: actor}
			if cmd.Flags().Changed("notes") {
				transition.Notes = &notes
			}
			order, err := rt.container.Services.Orders.Transition(ctx, transition)
			if err != nil {
				return err
			}

			out := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(out, "order\t%s\n", order.ID)
			fmt.Fprintf(out, "status\t%s\n", order.Status)
			fmt.Fprintf(out, "total\t%s %s\n", order.Total.StringFixed(2), order.Currency)
			if order.Invoice != nil {
				fmt.Fprintf(out, "invoice\t%s\n", order.Invoice.Number)
			}
			return out.Flush()
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "replace the order notes")
	cmd.Flags().StringVar(&actor, "actor", cliActor, "actor recorded on the order event")
	return cmd
}

func newSettingsCmd(deps runtimeDeps, flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or edit notification relay settings",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the stored settings with the API key masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openRuntime(ctx, deps, flags, false)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			settings, err := rt.backend.Registry.Settings().NotificationSettings(ctx)
			if err != nil {
				return err
			}
			out := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(out, "adminPhone\t%s\n", settings.AdminPhone)
			fmt.Fprintf(out, "apiKey\t%s\n", maskSecret(settings.APIKey))
			if !settings.UpdatedAt.IsZero() {
				fmt.Fprintf(out, "updatedAt\t%s\n", settings.UpdatedAt.Format(time.RFC3339))
			}
			return out.Flush()
		},
	})

	var phone, apiKey string
	set := &cobra.Command{
		Use:   "set",
		Short: "Store the admin phone and relay API key; the key may be a secret:// reference",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("phone") && !cmd.Flags().Changed("api-key") {
				return errors.New("at least one of --phone or --api-key is required")
			}
			ctx := cmd.Context()
			rt, err := openRuntime(ctx, deps, flags, false)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			repo := rt.backend.Registry.Settings()
			settings, err := repo.NotificationSettings(ctx)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("phone") {
				settings.AdminPhone = strings.TrimSpace(phone)
			}
			if cmd.Flags().Changed("api-key") {
				settings.APIKey = strings.TrimSpace(apiKey)
			}
			settings.UpdatedAt = time.Now().UTC()
			if err := repo.SaveNotificationSettings(ctx, settings); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "settings saved")
			return err
		},
	}
	set.Flags().StringVar(&phone, "phone", "", "admin phone number receiving order summaries")
	set.Flags().StringVar(&apiKey, "api-key", "", "relay API key or secret:// reference")
	cmd.AddCommand(set)
	return cmd
}

func newIdempotencyCmd(deps runtimeDeps, flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "idempotency",
		Short: "Maintain Idempotency-Key reservations",
	}
	var batch int
	cleanup := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete expired reservations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openRuntime(ctx, deps, flags, true)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			limit := batch
			if limit <= 0 {
				limit = rt.cfg.Idempotency.CleanupBatchSize
			}
			removed, err := rt.container.Idempotency.CleanupExpired(ctx, time.Now().UTC(), limit)
			if err != nil {
				return fmt.Errorf("cleanup: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired keys\n", removed)
			return err
		},
	}
	cleanup.Flags().IntVar(&batch, "batch", 0, "maximum keys to delete; defaults to the configured batch size")
	cmd.AddCommand(cleanup)
	return cmd
}

func maskSecret(value string) string {
	switch {
	case value == "":
		return "(unset)"
	case strings.HasPrefix(value, "secret://"):
		return value
	case len(value) <= 4:
		return "****"
	default:
		return strings.Repeat("*", len(value)-4) + value[len(value)-4:]
	}
}
