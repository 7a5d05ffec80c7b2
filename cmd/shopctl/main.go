package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	cl "shoplife/internal/cli"
	"shoplife/internal/config"
)

var (
	accent  = color.New(color.FgCyan, color.Bold)
	success = color.New(color.FgGreen, color.Bold)
	danger  = color.New(color.FgRed, color.Bold)
)

func main() {
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL

	root := &cobra.Command{
		Use:          "shopctl",
		Short:        "Shop-of-life API client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "API base URL")

	root.AddCommand(
		newRegisterCmd(&apiBase),
		newTransferCmd(&apiBase),
		newRedeemCmd(&apiBase),
		newBuyCmd(&apiBase),
		newShopCmd(&apiBase),
		newInventoryCmd(&apiBase),
		newBalanceCmd(&apiBase),
		newProgressCmd(&apiBase),
		newTotalCmd(&apiBase),
		newFlagCmd(&apiBase),
	)

	if err := root.Execute(); err != nil {
		danger.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func callCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

func printResult(out map[string]any) error {
	raw, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(raw))
	return nil
}

func newRegisterCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Create a fresh account and print its token",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, cancel := callCtx()
			defer cancel()
			out, err := cl.NewClient(*apiBase).Register(ctx)
			if err != nil {
				return err
			}
			if id, ok := out["user_id"].(string); ok {
				accent.Println(id)
				return nil
			}
			return printResult(out)
		},
	}
}

func newTransferCmd(apiBase *string) *cobra.Command {
	var early bool
	cmd := &cobra.Command{
		Use:   "transfer <user_id>",
		Short: "Convert 100 balance into lifetime transferred credit",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, cancel := callCtx()
			defer cancel()
			out, err := cl.NewClient(*apiBase).Transfer(ctx, args[0], 100, early)
			if err != nil {
				return err
			}
			success.Println("transfer committed")
			return printResult(out)
		},
	}
	cmd.Flags().BoolVar(&early, "early", false, "send the request as 0-RTT early data")
	return cmd
}

func newRedeemCmd(apiBase *string) *cobra.Command {
	var early bool
	cmd := &cobra.Command{
		Use:   "redeem <user_id>",
		Short: "Redeem the one-time 100 credit",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, cancel := callCtx()
			defer cancel()
			out, err := cl.NewClient(*apiBase).Redeem(ctx, args[0], early)
			if err != nil {
				return err
			}
			success.Println("redeem committed")
			return printResult(out)
		},
	}
	cmd.Flags().BoolVar(&early, "early", false, "send the request as 0-RTT early data")
	return cmd
}

func newBuyCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "buy <user_id> <item>",
		Short: "Buy a catalog item",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, cancel := callCtx()
			defer cancel()
			out, err := cl.NewClient(*apiBase).Buy(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			if flag, ok := out["flag"].(string); ok {
				success.Println(flag)
				return nil
			}
			return printResult(out)
		},
	}
}

func newShopCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "shop",
		Short: "List the catalog",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, cancel := callCtx()
			defer cancel()
			out, err := cl.NewClient(*apiBase).Shop(ctx)
			if err != nil {
				return err
			}
			return printResult(out)
		},
	}
}

func newInventoryCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "inventory <user_id>",
		Short: "List owned items",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, cancel := callCtx()
			defer cancel()
			out, err := cl.NewClient(*apiBase).Inventory(ctx, args[0])
			if err != nil {
				return err
			}
			return printResult(out)
		},
	}
}

func newBalanceCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <user_id>",
		Short: "Show the spendable balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, cancel := callCtx()
			defer cancel()
			out, err := cl.NewClient(*apiBase).Balance(ctx, args[0])
			if err != nil {
				return err
			}
			return printResult(out)
		},
	}
}

func newProgressCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "progress <user_id>",
		Short: "Show progress toward the flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, cancel := callCtx()
			defer cancel()
			out, err := cl.NewClient(*apiBase).Progress(ctx, args[0])
			if err != nil {
				return err
			}
			return printResult(out)
		},
	}
}

func newTotalCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "total <user_id>",
		Short: "Show the lifetime transferred total",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, cancel := callCtx()
			defer cancel()
			out, err := cl.NewClient(*apiBase).Total(ctx, args[0])
			if err != nil {
				return err
			}
			return printResult(out)
		},
	}
}

func newFlagCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "flag <user_id>",
		Short: "Retrieve the reward payload once the flag is owned",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, cancel := callCtx()
			defer cancel()
			out, err := cl.NewClient(*apiBase).Flag(ctx, args[0])
			if err != nil {
				return err
			}
			if flag, ok := out["flag"].(string); ok {
				success.Println(flag)
				return nil
			}
			return printResult(out)
		},
	}
}
