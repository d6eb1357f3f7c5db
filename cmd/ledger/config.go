package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"

	"github.com/nkiryanov/affiliate/internal/logger"
	"github.com/nkiryanov/affiliate/internal/service/commission"
	"github.com/nkiryanov/affiliate/internal/service/withdrawal"
)

const (
	defaultListenAddr      = "localhost:8000"
	defaultLoggingLevel    = logger.LevelInfo
	defaultEnvironment     = logger.EnvProduction
	defaultConfirmInterval = time.Minute
)

type Config struct {
	// Default logging level
	LogLevel string

	// Address on which the ledger service will be run
	ListenAddr string

	// Database to connect to
	DatabaseDSN string

	// Secret key
	// Some internal parts (like signing JWT tokens) uses symmetric encryption, so this key is used for that purpose
	SecretKey string

	// Shared secret the payment gateway sends with order webhooks
	GatewayToken string

	// Environment
	Environment string

	// Commission rates of direct and indirect referrers
	Level1Rate decimal.Decimal
	Level2Rate decimal.Decimal

	// Fee withheld from every withdrawal
	FeeRate decimal.Decimal

	// Pending commission is confirmed when this time passed since the order
	ConfirmationWindow time.Duration

	// How often due commissions are confirmed
	ConfirmInterval time.Duration

	// Usernames granted operator access on start
	Operators []string
}

func NewConfig() *Config {
	return &Config{
		LogLevel:           defaultLoggingLevel,
		ListenAddr:         defaultListenAddr,
		Environment:        defaultEnvironment,
		Level1Rate:         commission.DefaultLevel1Rate,
		Level2Rate:         commission.DefaultLevel2Rate,
		FeeRate:            withdrawal.DefaultFeeRate,
		ConfirmationWindow: commission.DefaultConfirmationWindow,
		ConfirmInterval:    defaultConfirmInterval,
	}
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		return c.LoadEnv(func(key string) string {
			return envMap[key]
		})
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) error {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) error {
		return func(value string) error {
			if value != "" {
				*o = value
			}
			return nil
		}
	}
	setDecimal := func(o *decimal.Decimal) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			d, err := decimal.NewFromString(value)
			if err != nil {
				return err
			}
			*o = d
			return nil
		}
	}
	setDuration := func(o *time.Duration) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			*o = d
			return nil
		}
	}
	setList := func(o *[]string) func(value string) error {
		return func(value string) error {
			if value != "" {
				*o = splitList(value)
			}
			return nil
		}
	}

	envMap := map[string]func(string) error{
		"RUN_ADDRESS":         setString(&c.ListenAddr),
		"DATABASE_URI":        setString(&c.DatabaseDSN),
		"SECRET_KEY":          setString(&c.SecretKey),
		"GATEWAY_TOKEN":       setString(&c.GatewayToken),
		"LOG_LEVEL":           setString(&c.LogLevel),
		"ENVIRONMENT":         setString(&c.Environment),
		"LEVEL1_RATE":         setDecimal(&c.Level1Rate),
		"LEVEL2_RATE":         setDecimal(&c.Level2Rate),
		"WITHDRAWAL_FEE_RATE": setDecimal(&c.FeeRate),
		"CONFIRMATION_WINDOW": setDuration(&c.ConfirmationWindow),
		"CONFIRM_INTERVAL":    setDuration(&c.ConfirmInterval),
		"OPERATORS":           setList(&c.Operators),
	}

	for key, parseFn := range envMap {
		if err := parseFn(getenv(key)); err != nil {
			return fmt.Errorf("invalid %s. Err: %w", key, err)
		}
	}

	return nil
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("ledger", pflag.ContinueOnError)

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.StringVarP(&c.SecretKey, "secret-key", "s", c.SecretKey, "Secret key")
	fs.StringVarP(&c.GatewayToken, "gateway-token", "g", c.GatewayToken, "Payment gateway shared secret")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")
	fs.Var((*decimalValue)(&c.Level1Rate), "level1-rate", "Commission rate of direct referrer")
	fs.Var((*decimalValue)(&c.Level2Rate), "level2-rate", "Commission rate of indirect referrer")
	fs.Var((*decimalValue)(&c.FeeRate), "fee-rate", "Withdrawal fee rate")
	fs.DurationVar(&c.ConfirmationWindow, "confirmation-window", c.ConfirmationWindow, "Refund window before commission is confirmed")
	fs.DurationVar(&c.ConfirmInterval, "confirm-interval", c.ConfirmInterval, "How often due commissions are confirmed")
	fs.StringSliceVar(&c.Operators, "operators", c.Operators, "Usernames granted operator access")

	return fs.Parse(args)
}

// Check options which have no sensible default
func (c *Config) Validate() error {
	switch {
	case c.SecretKey == "":
		return errors.New("secret key is required")
	case c.GatewayToken == "":
		return errors.New("gateway token is required")
	case c.ConfirmationWindow <= 0:
		return errors.New("confirmation window must be positive")
	case c.ConfirmInterval <= 0:
		return errors.New("confirm interval must be positive")
	}
	return nil
}

func splitList(value string) []string {
	var list []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	return list
}

// pflag.Value over decimal.Decimal
type decimalValue decimal.Decimal

func (v *decimalValue) String() string {
	return (*decimal.Decimal)(v).String()
}

func (v *decimalValue) Set(s string) error {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return err
	}
	*v = decimalValue(d)
	return nil
}

func (v *decimalValue) Type() string {
	return "decimal"
}
