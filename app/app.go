package app

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go-transfer-core/common"
	"go-transfer-core/config"
	"go-transfer-core/db"
	"go-transfer-core/logger"
	"go-transfer-core/repository"
	"go-transfer-core/service"

	"github.com/shopspring/decimal"
)

const usage = `Usage: transfercore <command> [flags]

Commands:
  migrate          apply pending database migrations
  create-account   open a new account with an opening balance
  account          show an account
  transfer         move money between two accounts
  history          list an account's transfers, newest first
`

// Run loads config, wires all layers together and dispatches the
// requested subcommand.
func Run() {
	config.LoadConfig(".")
	logger.Init()
	logger.Log.Info("Logger initialized")
	logger.Log.Info("Configuration loaded successfully")

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if os.Args[1] == "migrate" {
		if err := runMigrate(os.Args[2:]); err != nil {
			logger.Log.Fatalf("Migration failed: %v", err)
		}
		return
	}

	database, err := db.Connect()
	if err != nil {
		logger.Log.Fatalf("Error connecting to the database: %v", err)
	}
	defer database.Close()

	// The cache is an optimization only; run without it if Redis is down.
	var cache service.ICacheClient
	if redisClient, err := db.ConnectRedis(); err != nil {
		logger.Log.WithError(err).Warn("Redis unavailable, running without the account cache")
	} else {
		cache = redisClient
	}

	// --- Wiring All Layers Together ---
	accountStore := repository.NewPostgresAccountStore(database)
	transactionLog := repository.NewPostgresTransactionLog(database)

	engineCfg := config.AppConfig.Engine
	engine := service.NewTransferEngine(
		accountStore,
		transactionLog,
		cache,
		engineCfg.MaxAttempts,
		time.Duration(engineCfg.RetryBackoffMs)*time.Millisecond,
	)
	accountService := service.NewAccountService(
		accountStore,
		transactionLog,
		cache,
		time.Duration(engineCfg.CacheTTLMinutes)*time.Minute,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch os.Args[1] {
	case "create-account":
		err = runCreateAccount(ctx, accountService, os.Args[2:])
	case "account":
		err = runShowAccount(ctx, accountService, os.Args[2:])
	case "transfer":
		err = runTransfer(ctx, engine, os.Args[2:])
	case "history":
		err = runHistory(ctx, accountService, os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	source := fs.String("source", "file://db/migrations", "migration source URL")
	fs.Parse(args)

	return db.RunMigrations(*source)
}

func runCreateAccount(ctx context.Context, accounts *service.AccountService, args []string) error {
	fs := flag.NewFlagSet("create-account", flag.ExitOnError)
	number := fs.String("number", "", "account number")
	owner := fs.String("owner", "", "owner reference")
	balanceStr := fs.String("balance", "0", "opening balance")
	fs.Parse(args)

	opening, err := decimal.NewFromString(*balanceStr)
	if err != nil {
		return fmt.Errorf("invalid balance %q: %w", *balanceStr, err)
	}

	account, err := accounts.CreateAccount(ctx, *number, *owner, opening)
	if err != nil {
		return err
	}

	fmt.Printf("account %s created for %s with balance %s\n",
		account.AccountNumber, account.Owner, account.Balance.String())
	return nil
}

func runShowAccount(ctx context.Context, accounts *service.AccountService, args []string) error {
	fs := flag.NewFlagSet("account", flag.ExitOnError)
	number := fs.String("number", "", "account number")
	fs.Parse(args)

	account, err := accounts.GetAccountByNumber(ctx, *number)
	if err != nil {
		return err
	}

	fmt.Printf("account %s  owner %s  balance %s\n",
		account.AccountNumber, account.Owner, account.Balance.String())
	return nil
}

func runTransfer(ctx context.Context, engine *service.TransferEngine, args []string) error {
	fs := flag.NewFlagSet("transfer", flag.ExitOnError)
	from := fs.String("from", "", "source account number")
	to := fs.String("to", "", "destination account number")
	amountStr := fs.String("amount", "", "amount to transfer")
	fs.Parse(args)

	amount, err := decimal.NewFromString(*amountStr)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", *amountStr, err)
	}

	record, err := engine.Transfer(ctx, service.TransferRequest{
		FromAccount: *from,
		ToAccount:   *to,
		Amount:      amount,
	})
	if err != nil {
		if common.KindOf(err).Retryable() {
			return fmt.Errorf("transfer did not complete, safe to retry: %w", err)
		}
		return err
	}

	fmt.Printf("transfer %d committed: %s -> %s amount %s\n",
		record.ID, record.FromAccount, record.ToAccount, record.Amount.String())
	return nil
}

func runHistory(ctx context.Context, accounts *service.AccountService, args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	number := fs.String("number", "", "account number")
	fs.Parse(args)

	transfers, err := accounts.ListTransfersForAccount(ctx, *number)
	if err != nil {
		return err
	}

	for _, t := range transfers {
		fmt.Printf("%d  %s  %s -> %s  %s  %s\n",
			t.ID, t.CreatedAt.Format(time.RFC3339), t.FromAccount, t.ToAccount,
			t.Amount.String(), t.Type)
	}
	return nil
}
