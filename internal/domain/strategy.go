package domain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"options-backtest-lab/internal/apperr"
)

// Variant names a strategy family.
type Variant string

// Strategy variant constants.
const (
	VariantShortPut      Variant = "short_put"
	VariantShortPutCall  Variant = "short_put_call"
	VariantShortStraddle Variant = "short_straddle"
	VariantPutCalendar   Variant = "put_calendar"
)

// VariantStaggeredStraddle is the legacy name for a staggered short straddle.
const VariantStaggeredStraddle = "short_straddle_staggered_entry"

// ConfigSchemaVersion is bumped whenever a field is added to StrategyConfig.
const ConfigSchemaVersion = 1

// Defaults mirror the historical command line defaults.
const (
	DefaultDTE                = 30
	DefaultFrontDTE           = 30
	DefaultBackDTE            = 60
	DefaultDelta              = 0.5
	DefaultDeltaTolerance     = 0.05
	DefaultContracts          = 1
	DefaultLadderSteps        = 1
	DefaultContractMultiplier = 100.0
	DefaultMaxOpenTrades      = 99
	DefaultRSIWindow          = 14
	DefaultHighVolWindow      = 20
	DefaultHighVolThreshold   = 0.30
)

var variantCodes = map[Variant]string{
	VariantShortPut:      "sp",
	VariantShortPutCall:  "spc",
	VariantShortStraddle: "ss",
	VariantPutCalendar:   "pc",
}

// ParseVariant resolves a variant name. The legacy staggered straddle name
// resolves to short_straddle with staggered set.
func ParseVariant(name string) (Variant, bool, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.ReplaceAll(n, "-", "_")
	if n == VariantStaggeredStraddle {
		return VariantShortStraddle, true, nil
	}
	v := Variant(n)
	if _, ok := variantCodes[v]; !ok {
		return "", false, apperr.NewConfigError("variant", name, "unknown strategy variant")
	}
	return v, false, nil
}

// StrategyConfig holds every recognized parameter of one backtest run.
// Optional thresholds are pointers so that unset is distinct from zero.
type StrategyConfig struct {
	SchemaVersion int     `yaml:"schema-version" json:"schema-version"`
	Variant       Variant `yaml:"variant" json:"variant"`
	Staggered     bool    `yaml:"staggered" json:"staggered"`

	// Entry filter
	DTE            int     `yaml:"dte" json:"dte"`
	DTEMin         *int    `yaml:"dte-min" json:"dte-min"`
	DTEMax         *int    `yaml:"dte-max" json:"dte-max"`
	FrontDTE       int     `yaml:"front-dte" json:"front-dte"`
	BackDTE        int     `yaml:"back-dte" json:"back-dte"`
	ShortPutDelta  float64 `yaml:"short-put-delta" json:"short-put-delta"`
	ShortCallDelta float64 `yaml:"short-call-delta" json:"short-call-delta"`
	DeltaTolerance float64 `yaml:"delta-tolerance" json:"delta-tolerance"`

	// Sizing
	Contracts          int     `yaml:"contracts" json:"contracts"`
	Ladder             bool    `yaml:"ladder" json:"ladder"`
	LadderSteps        int     `yaml:"ladder-steps" json:"ladder-steps"`
	ContractMultiplier float64 `yaml:"contract-multiplier" json:"contract-multiplier"`

	// Risk rules (percent of entry premium)
	ProfitTake          *float64 `yaml:"profit-take" json:"profit-take"`
	StopLoss            *float64 `yaml:"stop-loss" json:"stop-loss"`
	ForceCloseAfterDays *int     `yaml:"force-close-after-days" json:"force-close-after-days"`

	// Portfolio limits
	MaxOpenTrades  int  `yaml:"max-open-trades" json:"max-open-trades"`
	TradeDelayDays *int `yaml:"trade-delay-days" json:"trade-delay-days"`

	// Optional simulation window, YYYY-MM-DD
	StartDate string `yaml:"start-date" json:"start-date"`
	EndDate   string `yaml:"end-date" json:"end-date"`

	// Entry gates
	RSIWindow        int      `yaml:"rsi-window" json:"rsi-window"`
	RSILow           *float64 `yaml:"rsi-low-threshold" json:"rsi-low-threshold"`
	RSIHigh          *float64 `yaml:"rsi-high-threshold" json:"rsi-high-threshold"`
	HighVolCheck     bool     `yaml:"high-vol-check" json:"high-vol-check"`
	HighVolWindow    int      `yaml:"high-vol-check-window" json:"high-vol-check-window"`
	HighVolThreshold float64  `yaml:"high-vol-threshold" json:"high-vol-threshold"`
}

// DefaultStrategyConfig returns the defaults for a variant.
func DefaultStrategyConfig(v Variant) StrategyConfig {
	return StrategyConfig{Variant: v}.WithDefaults()
}

// WithDefaults fills unset fields and normalizes parameters that have no
// effect, so that configs which behave the same share a fingerprint: a trade
// delay of zero or less means no delay, and ladder-steps only counts when
// ladder is set.
func (c StrategyConfig) WithDefaults() StrategyConfig {
	if c.SchemaVersion == 0 {
		c.SchemaVersion = ConfigSchemaVersion
	}
	if c.DTE == 0 {
		c.DTE = DefaultDTE
	}
	if c.FrontDTE == 0 {
		c.FrontDTE = DefaultFrontDTE
	}
	if c.BackDTE == 0 {
		c.BackDTE = DefaultBackDTE
	}
	if c.ShortPutDelta == 0 {
		c.ShortPutDelta = DefaultDelta
	}
	if c.ShortCallDelta == 0 {
		c.ShortCallDelta = DefaultDelta
	}
	if c.DeltaTolerance == 0 {
		c.DeltaTolerance = DefaultDeltaTolerance
	}
	if c.Contracts == 0 {
		c.Contracts = DefaultContracts
	}
	if c.LadderSteps == 0 || !c.Ladder {
		c.LadderSteps = DefaultLadderSteps
	}
	if c.ContractMultiplier == 0 {
		c.ContractMultiplier = DefaultContractMultiplier
	}
	if c.MaxOpenTrades == 0 {
		c.MaxOpenTrades = DefaultMaxOpenTrades
	}
	if c.TradeDelayDays != nil && *c.TradeDelayDays <= 0 {
		c.TradeDelayDays = nil
	}
	if c.RSIWindow == 0 {
		c.RSIWindow = DefaultRSIWindow
	}
	if c.HighVolWindow == 0 {
		c.HighVolWindow = DefaultHighVolWindow
	}
	if c.HighVolThreshold == 0 {
		c.HighVolThreshold = DefaultHighVolThreshold
	}
	return c
}

// Validate checks a config that already has defaults applied.
func (c StrategyConfig) Validate() error {
	if _, ok := variantCodes[c.Variant]; !ok {
		return apperr.NewConfigError("variant", string(c.Variant), "unknown strategy variant")
	}
	if c.DTE <= 0 {
		return apperr.NewConfigError("dte", c.DTE, "must be positive")
	}
	if c.DTEMin != nil && *c.DTEMin < 0 {
		return apperr.NewConfigError("dte-min", *c.DTEMin, "must not be negative")
	}
	if c.DTEMin != nil && c.DTEMax != nil && *c.DTEMin > *c.DTEMax {
		return apperr.NewConfigError("dte-min", *c.DTEMin, fmt.Sprintf("must not exceed dte-max %d", *c.DTEMax))
	}
	if c.FrontDTE <= 0 {
		return apperr.NewConfigError("front-dte", c.FrontDTE, "must be positive")
	}
	if c.BackDTE <= c.FrontDTE {
		return apperr.NewConfigError("back-dte", c.BackDTE, "must be greater than front-dte")
	}
	if c.ShortPutDelta <= 0 || c.ShortPutDelta > 1 {
		return apperr.NewConfigError("short-put-delta", c.ShortPutDelta, "must be in (0, 1]")
	}
	if c.ShortCallDelta <= 0 || c.ShortCallDelta > 1 {
		return apperr.NewConfigError("short-call-delta", c.ShortCallDelta, "must be in (0, 1]")
	}
	if c.DeltaTolerance < 0 {
		return apperr.NewConfigError("delta-tolerance", c.DeltaTolerance, "must not be negative")
	}
	if c.Contracts < 1 {
		return apperr.NewConfigError("contracts", c.Contracts, "must be at least 1")
	}
	if c.LadderSteps < 1 {
		return apperr.NewConfigError("ladder-steps", c.LadderSteps, "must be at least 1")
	}
	if c.Ladder && c.Variant != VariantShortStraddle {
		return apperr.NewConfigError("ladder", c.Ladder, "laddering only applies to short_straddle")
	}
	if c.ContractMultiplier <= 0 {
		return apperr.NewConfigError("contract-multiplier", c.ContractMultiplier, "must be positive")
	}
	if c.ProfitTake != nil && *c.ProfitTake <= 0 {
		return apperr.NewConfigError("profit-take", *c.ProfitTake, "must be positive")
	}
	if c.StopLoss != nil && *c.StopLoss <= 0 {
		return apperr.NewConfigError("stop-loss", *c.StopLoss, "must be positive")
	}
	if c.ForceCloseAfterDays != nil && *c.ForceCloseAfterDays < 1 {
		return apperr.NewConfigError("force-close-after-days", *c.ForceCloseAfterDays, "must be at least 1")
	}
	if c.MaxOpenTrades < 1 {
		return apperr.NewConfigError("max-open-trades", c.MaxOpenTrades, "must be at least 1")
	}

	start, hasStart, err := c.Start()
	if err != nil {
		return apperr.NewConfigError("start-date", c.StartDate, "expected YYYY-MM-DD")
	}
	end, hasEnd, err := c.End()
	if err != nil {
		return apperr.NewConfigError("end-date", c.EndDate, "expected YYYY-MM-DD")
	}
	if hasStart && hasEnd && start.After(end) {
		return apperr.NewConfigError("start-date", c.StartDate, "must not be after end-date "+c.EndDate)
	}

	if c.RSIWindow < 2 {
		return apperr.NewConfigError("rsi-window", c.RSIWindow, "must be at least 2")
	}
	if c.RSILow != nil && (*c.RSILow < 0 || *c.RSILow > 100) {
		return apperr.NewConfigError("rsi-low-threshold", *c.RSILow, "must be in [0, 100]")
	}
	if c.RSIHigh != nil && (*c.RSIHigh < 0 || *c.RSIHigh > 100) {
		return apperr.NewConfigError("rsi-high-threshold", *c.RSIHigh, "must be in [0, 100]")
	}
	if c.RSILow != nil && c.RSIHigh != nil && *c.RSILow > *c.RSIHigh {
		return apperr.NewConfigError("rsi-low-threshold", *c.RSILow, "must not exceed rsi-high-threshold")
	}
	if c.HighVolWindow < 2 {
		return apperr.NewConfigError("high-vol-check-window", c.HighVolWindow, "must be at least 2")
	}
	if c.HighVolThreshold <= 0 {
		return apperr.NewConfigError("high-vol-threshold", c.HighVolThreshold, "must be positive")
	}
	return nil
}

// Start returns the parsed start date, if configured.
func (c StrategyConfig) Start() (time.Time, bool, error) {
	return optionalDate(c.StartDate)
}

// End returns the parsed end date, if configured.
func (c StrategyConfig) End() (time.Time, bool, error) {
	return optionalDate(c.EndDate)
}

func optionalDate(s string) (time.Time, bool, error) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, false, nil
	}
	t, err := ParseDate(s)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

// RSIGateEnabled reports whether either RSI threshold is configured.
func (c StrategyConfig) RSIGateEnabled() bool {
	return c.RSILow != nil || c.RSIHigh != nil
}

// TradeDelay returns the minimum spacing in days between entries, zero when unset.
func (c StrategyConfig) TradeDelay() int {
	if c.TradeDelayDays == nil || *c.TradeDelayDays < 0 {
		return 0
	}
	return *c.TradeDelayDays
}

// TradeContracts is the contract count of every trade the config opens.
func (c StrategyConfig) TradeContracts() int {
	if c.Ladder {
		return c.Contracts * c.LadderSteps
	}
	return c.Contracts
}

// DisplayName is the human-facing variant name, including the staggered wrapper.
func (c StrategyConfig) DisplayName() string {
	if c.Staggered {
		return string(c.Variant) + "_staggered"
	}
	return string(c.Variant)
}

// VariantCode is the short prefix used in storage keys.
func (c StrategyConfig) VariantCode() string {
	code, ok := variantCodes[c.Variant]
	if !ok {
		code = "xx"
	}
	if c.Staggered {
		code += "x"
	}
	return code
}

// Canonical returns every recognized field keyed by its canonical name.
// Unset optionals map to nil so that they still participate in the fingerprint.
func (c StrategyConfig) Canonical() map[string]interface{} {
	return map[string]interface{}{
		"schema-version":         c.SchemaVersion,
		"variant":                string(c.Variant),
		"staggered":              c.Staggered,
		"dte":                    c.DTE,
		"dte-min":                intOrNil(c.DTEMin),
		"dte-max":                intOrNil(c.DTEMax),
		"front-dte":              c.FrontDTE,
		"back-dte":               c.BackDTE,
		"short-put-delta":        c.ShortPutDelta,
		"short-call-delta":       c.ShortCallDelta,
		"delta-tolerance":        c.DeltaTolerance,
		"contracts":              c.Contracts,
		"ladder":                 c.Ladder,
		"ladder-steps":           c.LadderSteps,
		"contract-multiplier":    c.ContractMultiplier,
		"profit-take":            floatOrNil(c.ProfitTake),
		"stop-loss":              floatOrNil(c.StopLoss),
		"force-close-after-days": intOrNil(c.ForceCloseAfterDays),
		"max-open-trades":        c.MaxOpenTrades,
		"trade-delay-days":       intOrNil(c.TradeDelayDays),
		"start-date":             strings.TrimSpace(c.StartDate),
		"end-date":               strings.TrimSpace(c.EndDate),
		"rsi-window":             c.RSIWindow,
		"rsi-low-threshold":      floatOrNil(c.RSILow),
		"rsi-high-threshold":     floatOrNil(c.RSIHigh),
		"high-vol-check":         c.HighVolCheck,
		"high-vol-check-window":  c.HighVolWindow,
		"high-vol-threshold":     c.HighVolThreshold,
	}
}

// RawParams renders the set fields as sorted "key=value" pairs for display.
func (c StrategyConfig) RawParams() string {
	fields := c.Canonical()
	keys := make([]string, 0, len(fields))
	for k, v := range fields {
		if v == nil || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + formatValue(fields[k])
	}
	return strings.Join(parts, ",")
}

func formatValue(v interface{}) string {
	switch x := v.(type) {
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

func intOrNil(p *int) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func floatOrNil(p *float64) interface{} {
	if p == nil {
		return nil
	}
	return *p
}
