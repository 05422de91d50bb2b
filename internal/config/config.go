package config

import (
	"flag"
	"fmt"
	"io/ioutil"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

// DBCredential struct
type DBCredential struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	Port     string `yaml:"port"`
	Database int    `yaml:"database"`
}

// GetRedisAddress prints redis credential info.
func (c *DBCredential) GetRedisAddress() string {
	return fmt.Sprintf("%v:%v", c.Address, c.Port)
}

// Enabled reports whether a redis address was configured.
func (c *DBCredential) Enabled() bool {
	return c.Address != ""
}

// Configuration struct
type Configuration struct {
	LogLevel string       `yaml:"log_level"`
	App      App          `yaml:"app" validate:"required"`
	Server   Server       `yaml:"server"`
	Redis    DBCredential `yaml:"redis"`
	Alarm    Alarm        `yaml:"alarm"`
	Networks []Network    `yaml:"networks" validate:"required,min=1,dive"`
	Contract Contract     `yaml:"contract" validate:"required"`
	Mint     Mint         `yaml:"mint"`
	Backend  Backend      `yaml:"backend"`
	Relay    Relay        `yaml:"relay"`
	Hosted   Hosted       `yaml:"hosted"`
	Metrics  Metrics      `yaml:"metrics"`
}

// App identifies the widget to wallets and namespaces persisted state.
type App struct {
	ID          string   `yaml:"id" validate:"required"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	PageURL     string   `yaml:"page_url" validate:"omitempty,url"`
	Icons       []string `yaml:"icons"`
}

type Server struct {
	Address        string        `yaml:"address"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

type Alarm struct {
	SentryDSN       string        `yaml:"sentry_dsn"`
	LarkWebhook     string        `yaml:"lark_webhook"`
	LarkTitle       string        `yaml:"lark_title"`
	DingTalkWebhook string        `yaml:"dingtalk_webhook"`
	DingTalkSecret  string        `yaml:"dingtalk_secret"`
	Silent          time.Duration `yaml:"silent"`
}

// Network is one chain the widget may ask the wallet to switch to or register.
type Network struct {
	ChainID        uint64 `yaml:"chain_id" validate:"required"`
	Name           string `yaml:"name" validate:"required"`
	RPCURL         string `yaml:"rpc_url" validate:"required,url"`
	CurrencyName   string `yaml:"currency_name"`
	CurrencySymbol string `yaml:"currency_symbol"`
	Decimals       uint8  `yaml:"decimals"`
	ExplorerURL    string `yaml:"explorer_url" validate:"omitempty,url"`
}

type Contract struct {
	Address string `yaml:"address" validate:"required,eth_addr"`
	ChainID uint64 `yaml:"chain_id" validate:"required"`
	ABIPath string `yaml:"abi_path" validate:"required_without=ABI"`
	ABI     string `yaml:"abi"`
	// Methods overrides the method name used per operation (mint, price, totalSupply, ...).
	Methods map[string]string `yaml:"methods"`
}

type Mint struct {
	DefaultGasLimit  uint64        `yaml:"default_gas_limit"`
	GasLimitSlippage uint64        `yaml:"gas_limit_slippage"`
	MaxPerMint       uint64        `yaml:"max_per_mint"`
	Price            string        `yaml:"price"`
	ProInsightPrice  string        `yaml:"pro_insight_price"`
	HideCounter      bool          `yaml:"hide_counter"`
	RedirectURL      string        `yaml:"redirect_url" validate:"omitempty,url"`
	RedirectDelay    time.Duration `yaml:"redirect_delay"`
	ReceiptPoll      time.Duration `yaml:"receipt_poll"`
	MaxWatchers      int           `yaml:"max_watchers"`
}

type Backend struct {
	SessionURL      string        `yaml:"session_url" validate:"omitempty,url"`
	UpdateStatusURL string        `yaml:"update_status_url" validate:"omitempty,url"`
	ScoreURL        string        `yaml:"score_url" validate:"omitempty,url"`
	Timeout         time.Duration `yaml:"timeout"`
	RatePerSecond   int           `yaml:"rate_per_second"`
	PerAccountLimit int           `yaml:"per_account_per_minute"`
}

type Relay struct {
	Disabled     bool          `yaml:"disabled"`
	BridgeURL    string        `yaml:"bridge_url"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	FakeMetaMask bool          `yaml:"fake_metamask"`
}

type Hosted struct {
	Disabled bool   `yaml:"disabled"`
	AppName  string `yaml:"app_name"`
	RPCURL   string `yaml:"rpc_url"`
	DarkMode bool   `yaml:"dark_mode"`
}

type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

const (
	defaultGasLimitPerToken = 100000
	defaultGasLimitSlippage = 5000
	defaultMaxPerMint       = 10
	defaultProInsightPrice  = "0.0001"
	defaultRedirectDelay    = 800 * time.Millisecond
	defaultReceiptPoll      = time.Second
	defaultMaxWatchers      = 8
	defaultBackendTimeout   = 10 * time.Second
	defaultBackendRate      = 5
	defaultRelayReadTimeout = 5 * time.Minute
	defaultServerAddress    = ":8080"
	defaultRequestTimeout   = 60 * time.Second
	defaultMetricsPath      = "/metrics"
)

// DefaultGasLimitFor falls back to 100000 gas per token when no limit is configured.
func (m *Mint) DefaultGasLimitFor(quantity uint64) uint64 {
	if quantity == 0 {
		quantity = 1
	}
	if m.DefaultGasLimit > 0 {
		return m.DefaultGasLimit
	}
	return defaultGasLimitPerToken * quantity
}

func (c *Configuration) applyDefaults() {
	if c.Mint.GasLimitSlippage == 0 {
		c.Mint.GasLimitSlippage = defaultGasLimitSlippage
	}
	if c.Mint.MaxPerMint == 0 {
		c.Mint.MaxPerMint = defaultMaxPerMint
	}
	if c.Mint.ProInsightPrice == "" {
		c.Mint.ProInsightPrice = defaultProInsightPrice
	}
	if c.Mint.RedirectDelay == 0 {
		c.Mint.RedirectDelay = defaultRedirectDelay
	}
	if c.Mint.ReceiptPoll == 0 {
		c.Mint.ReceiptPoll = defaultReceiptPoll
	}
	if c.Mint.MaxWatchers == 0 {
		c.Mint.MaxWatchers = defaultMaxWatchers
	}
	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = defaultBackendTimeout
	}
	if c.Backend.RatePerSecond == 0 {
		c.Backend.RatePerSecond = defaultBackendRate
	}
	if c.Relay.ReadTimeout == 0 {
		c.Relay.ReadTimeout = defaultRelayReadTimeout
	}
	if c.Server.Address == "" {
		c.Server.Address = defaultServerAddress
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = defaultRequestTimeout
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = defaultMetricsPath
	}
	if c.Alarm.Silent == 0 {
		c.Alarm.Silent = time.Minute
	}
	for i := range c.Networks {
		if c.Networks[i].Decimals == 0 {
			c.Networks[i].Decimals = 18
		}
	}
}

// ABIJSON returns the inline ABI or the content of the ABI file.
func (c *Contract) ABIJSON() ([]byte, error) {
	if c.ABI != "" {
		return []byte(c.ABI), nil
	}
	return ioutil.ReadFile(c.ABIPath)
}

// Parse decodes, defaults and validates a yaml document.
func Parse(data []byte) (*Configuration, error) {
	t := Configuration{}
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	t.applyDefaults()
	if err := validator.New().Struct(&t); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &t, nil
}

func readConfig(path string) (*Configuration, error) {
	logrus.Info("Starting to load configuration file ...")
	dat, err := ioutil.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file %s does not exist", path)
		}
		return nil, err
	}
	return Parse(dat)
}

var Global *Configuration

// Read reads configuration information from yml.
func Read() {
	configFilePath := flag.String("config-path", "internal/config/config.yml", "The path to the configuration file")
	flag.Parse()
	logrus.Infof("Loading configuration file from %s", *configFilePath)
	globalConfig, err := readConfig(*configFilePath)
	if err != nil {
		logrus.Fatal(err)
	}
	Global = globalConfig
}
