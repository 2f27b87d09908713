// Package config loads the settings file and environment overrides.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"qbt_manager/internal/filter"
	"qbt_manager/internal/intake"
	"qbt_manager/internal/model"
	"qbt_manager/internal/notify"
	"qbt_manager/internal/policy"
	"qbt_manager/internal/qbittorrent"
	"qbt_manager/internal/scheduler"
)

// DefaultPath is the settings file used when none is given.
const DefaultPath = "Settings.json"

// ErrNotFound is returned when the settings file does not exist.
var ErrNotFound = errors.New("settings file not found")

// Config holds the application configuration.
type Config struct {
	QBT                 QBT       `mapstructure:"qbt"`
	Trackers            []Tracker `mapstructure:"trackers"`
	RSSFeeds            []RSSFeed `mapstructure:"rssfeeds"`
	RSSCategory         string    `mapstructure:"rssCategory"`
	DeleteTasks         bool      `mapstructure:"deleteTasks"`
	DeleteFiles         bool      `mapstructure:"deleteFiles"`
	Ignore              []string  `mapstructure:"ignore"`
	Email               Email     `mapstructure:"email"`
	Telegram            Telegram  `mapstructure:"telegram"`
	Notify              Notify    `mapstructure:"notify"`
	HistoryPath         string    `mapstructure:"historyPath"`
	Schedule            string    `mapstructure:"schedule"`
	MetricsFile         string    `mapstructure:"metricsFile"`
	SubmitRatePerMinute int       `mapstructure:"submitRatePerMinute"`
	LogLevel            string    `mapstructure:"logLevel"`
	LogLocation         string    `mapstructure:"logLocation"`
	LogMaxSize          int       `mapstructure:"logMaxSize"`
	LogMaxBackups       int       `mapstructure:"logMaxBackups"`
}

// QBT holds the qBittorrent WebUI connection settings.
type QBT struct {
	URL            string `mapstructure:"url"`
	Username       string `mapstructure:"username"`
	Password       string `mapstructure:"password"`
	BasicUser      string `mapstructure:"basicUser"`
	BasicPass      string `mapstructure:"basicPass"`
	TLSSkipVerify  bool   `mapstructure:"tlsSkipVerify"`
	TimeoutSeconds int    `mapstructure:"timeoutSeconds"`
}

// Tracker is one retention rule as written in the settings file. Limits use
// the client's encoding: -1 is unlimited, -2 the global default. Upload
// limits are in KiB/s.
type Tracker struct {
	Tracker        string   `mapstructure:"tracker"`
	MaxDaysToKeep  *int     `mapstructure:"maxDaysToKeep"`
	MaxRatio       *float64 `mapstructure:"max_ratio"`
	MaxSeedingTime *int64   `mapstructure:"max_seeding_time"`
	UpLimit        *int64   `mapstructure:"up_limit"`
	DeleteMessages []string `mapstructure:"deleteMessages"`
}

// RSSFeed is one feed as written in the settings file.
type RSSFeed struct {
	URL       string   `mapstructure:"url"`
	Name      string   `mapstructure:"name"`
	Category  string   `mapstructure:"category"`
	Scope     string   `mapstructure:"scope"`
	Include   []string `mapstructure:"include"`
	Exclude   []string `mapstructure:"exclude"`
	IncludeRe []string `mapstructure:"includeRe"`
	ExcludeRe []string `mapstructure:"excludeRe"`
}

// Email holds the SMTP settings. Email is disabled without a server.
type Email struct {
	SMTPServer  string `mapstructure:"smtpserver"`
	SMTPPort    int    `mapstructure:"smtpport"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	ToAddress   string `mapstructure:"toaddress"`
	FromAddress string `mapstructure:"fromaddress"`
	ToName      string `mapstructure:"toname"`
	SSL         bool   `mapstructure:"ssl"`
}

// Telegram holds the bot settings. The bot is disabled without a token.
type Telegram struct {
	Token        string  `mapstructure:"token"`
	ChatID       int64   `mapstructure:"chatId"`
	AllowedUsers []int64 `mapstructure:"allowedUsers"`
}

// Notify selects optional notifications.
type Notify struct {
	OnAdd bool `mapstructure:"onAdd"`
}

// Load reads the settings file at path and applies environment overrides.
// The format follows the file extension.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("stat settings: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	bindEnv(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read settings %s: %w", path, err)
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		stringToUserIDsHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode settings %s: %w", path, err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("qbt.timeoutSeconds", 30)
	v.SetDefault("rssCategory", intake.DefaultCategory)
	v.SetDefault("historyPath", "./data/history.db")
	v.SetDefault("schedule", scheduler.DefaultSchedule)
	v.SetDefault("logLevel", "info")
	v.SetDefault("logMaxSize", 100)
	v.SetDefault("logMaxBackups", 7)
}

func bindEnv(v *viper.Viper) {
	_ = v.BindEnv("qbt.url", "QBT_URL")
	_ = v.BindEnv("qbt.username", "QBT_USERNAME")
	_ = v.BindEnv("qbt.password", "QBT_PASSWORD")
	_ = v.BindEnv("telegram.token", "TELEGRAM_BOT_TOKEN")
	_ = v.BindEnv("telegram.allowedUsers", "ALLOWED_USERS")
	_ = v.BindEnv("email.password", "SMTP_PASSWORD")
	_ = v.BindEnv("logLevel", "LOG_LEVEL")
	_ = v.BindEnv("historyPath", "DATABASE_PATH")
}

// stringToUserIDsHook parses a comma separated list of Telegram user IDs,
// as given in ALLOWED_USERS.
func stringToUserIDsHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf([]int64(nil)) {
			return data, nil
		}
		return parseUserIDs(data.(string))
	}
}

func parseUserIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		uid, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user ID %q in ALLOWED_USERS: %w", s, err)
		}
		ids = append(ids, uid)
	}
	return ids, nil
}

// Validate reports the first setting that would make a run fail.
func (c *Config) Validate() error {
	u, err := url.Parse(c.QBT.URL)
	if c.QBT.URL == "" || err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("qbt.url must be an absolute URL, got %q", c.QBT.URL)
	}
	for i, t := range c.Trackers {
		if strings.TrimSpace(t.Tracker) == "" {
			return fmt.Errorf("trackers[%d]: tracker match is empty", i)
		}
	}
	if _, err := policy.CompileIgnores(c.Ignore); err != nil {
		return err
	}
	for i, f := range c.RSSFeeds {
		if strings.TrimSpace(f.URL) == "" {
			return fmt.Errorf("rssfeeds[%d]: url is empty", i)
		}
		if _, err := filter.Compile(f.filters()); err != nil {
			return fmt.Errorf("rssfeeds[%d]: %w", i, err)
		}
	}
	if c.Schedule != "" {
		if _, err := scheduler.Parse(c.Schedule); err != nil {
			return err
		}
	}
	if c.SubmitRatePerMinute < 0 {
		return fmt.Errorf("submitRatePerMinute must not be negative")
	}
	return nil
}

// Rules converts the tracker settings into retention rules, in file order.
func (c *Config) Rules() []model.RetentionRule {
	rules := make([]model.RetentionRule, 0, len(c.Trackers))
	for _, t := range c.Trackers {
		r := model.RetentionRule{
			TrackerMatch:   strings.TrimSpace(t.Tracker),
			MaxDaysToKeep:  model.KeepForever,
			DeleteMessages: t.DeleteMessages,
		}
		if t.MaxDaysToKeep != nil {
			r.MaxDaysToKeep = *t.MaxDaysToKeep
		}
		if t.MaxRatio != nil {
			r.MaxRatio = model.LimitFromSentinel(*t.MaxRatio).Ptr()
		}
		if t.MaxSeedingTime != nil {
			r.MaxSeedingTime = model.LimitFromSentinel(*t.MaxSeedingTime).Ptr()
		}
		if t.UpLimit != nil {
			r.UploadLimit = uploadLimit(*t.UpLimit).Ptr()
		}
		rules = append(rules, r)
	}
	return rules
}

// uploadLimit converts KiB/s to bytes/s. Zero and negative values mean no limit.
func uploadLimit(kib int64) model.Limit[int64] {
	if kib <= 0 {
		return model.Unlimited[int64]()
	}
	return model.Custom(kib * 1024)
}

// Policy returns the classification settings.
func (c *Config) Policy() policy.Policy {
	p := policy.Policy{Rules: c.Rules(), DeleteFiles: c.DeleteFiles}
	if c.DeleteTasks {
		p.Mode = model.RemoveDelete
	}
	return p
}

// Feeds converts the feed settings.
func (c *Config) Feeds() []model.Feed {
	feeds := make([]model.Feed, 0, len(c.RSSFeeds))
	for _, f := range c.RSSFeeds {
		feeds = append(feeds, model.Feed{
			Name:     f.Name,
			URL:      strings.TrimSpace(f.URL),
			Category: f.Category,
			Filters:  f.filters(),
		})
	}
	return feeds
}

func (f RSSFeed) filters() []model.Filter {
	scope := model.FilterScope(strings.ToLower(f.Scope))
	if scope == "" {
		scope = model.ScopeAll
	}
	var out []model.Filter
	add := func(kind model.FilterKind, values []string) {
		for _, v := range values {
			out = append(out, model.Filter{Kind: kind, Scope: scope, Value: v})
		}
	}
	add(model.FilterInclude, f.Include)
	add(model.FilterExclude, f.Exclude)
	add(model.FilterIncludeRe, f.IncludeRe)
	add(model.FilterExcludeRe, f.ExcludeRe)
	return out
}

// QBTConfig returns the client connection settings.
func (c *Config) QBTConfig() qbittorrent.Config {
	return qbittorrent.Config{
		Host:          c.QBT.URL,
		Username:      c.QBT.Username,
		Password:      c.QBT.Password,
		BasicUser:     c.QBT.BasicUser,
		BasicPass:     c.QBT.BasicPass,
		TLSSkipVerify: c.QBT.TLSSkipVerify,
		Timeout:       time.Duration(c.QBT.TimeoutSeconds) * time.Second,
	}
}

// EmailEnabled reports whether alert emails are configured.
func (c *Config) EmailEnabled() bool {
	return c.Email.SMTPServer != "" && c.Email.ToAddress != ""
}

// EmailConfig returns the SMTP settings. The port defaults to 25.
func (c *Config) EmailConfig() notify.EmailConfig {
	port := c.Email.SMTPPort
	if port == 0 {
		port = 25
	}
	from := c.Email.FromAddress
	if from == "" {
		from = c.Email.ToAddress
	}
	return notify.EmailConfig{
		Host:     c.Email.SMTPServer,
		Port:     port,
		Username: c.Email.Username,
		Password: c.Email.Password,
		From:     from,
		To:       c.Email.ToAddress,
		ToName:   c.Email.ToName,
		SSL:      c.Email.SSL,
		Timeout:  30 * time.Second,
	}
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	if len(c.Telegram.AllowedUsers) == 0 {
		return true
	}
	for _, id := range c.Telegram.AllowedUsers {
		if id == userID {
			return true
		}
	}
	return false
}
