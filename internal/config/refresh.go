package config

import (
	"fmt"
	"net/url"

	"github.com/spf13/pflag"
)

// RefreshConfig holds settings for one-shot refresh commands.
type RefreshConfig struct {
	Common

	Source string
	Pool   string
}

// LoadRefresh merges config file, environment variables, and flags into RefreshConfig.
func LoadRefresh(cfgFile string, flags *pflag.FlagSet) (RefreshConfig, error) {
	v, err := newViper(cfgFile, flags)
	if err != nil {
		return RefreshConfig{}, err
	}
	common, err := loadCommon(v)
	if err != nil {
		return RefreshConfig{}, err
	}
	return RefreshConfig{
		Common: common,
		Source: v.GetString("source"),
		Pool:   v.GetString("pool"),
	}, nil
}

// QueryConfig holds the store settings and the raw pool criteria of the
// query command, keyed by their HTTP parameter names.
type QueryConfig struct {
	Common

	Values url.Values
}

// queryKeys maps flag names to HTTP query parameters.
var queryKeys = map[string]string{
	"token":         "token",
	"fee":           "fee",
	"fee-min":       "fee_min",
	"fee-max":       "fee_max",
	"volume-min":    "volume_min",
	"volume-max":    "volume_max",
	"volume-period": "volume_period",
	"tvl-min":       "tvl_min",
	"tvl-max":       "tvl_max",
	"apr-min":       "apr_min",
	"apr-max":       "apr_max",
	"apr-type":      "apr_type",
	"order-by":      "order_by",
	"order-dir":     "order_dir",
	"limit":         "limit",
	"offset":        "offset",
}

// LoadQuery merges config file, environment variables, and flags into QueryConfig.
func LoadQuery(cfgFile string, flags *pflag.FlagSet) (QueryConfig, error) {
	v, err := newViper(cfgFile, flags)
	if err != nil {
		return QueryConfig{}, err
	}
	common, err := loadCommon(v)
	if err != nil {
		return QueryConfig{}, err
	}

	values := url.Values{}
	for key, param := range queryKeys {
		if !v.IsSet(key) {
			continue
		}
		if raw := fmt.Sprintf("%v", v.Get(key)); raw != "" {
			values.Set(param, raw)
		}
	}
	return QueryConfig{Common: common, Values: values}, nil
}
