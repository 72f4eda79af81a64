package backup

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"whm-backup/internal/backup"
)

// loadConfig builds the run configuration from v, layered over the
// defaults. Every key is registered as a default first so that
// WHM_BACKUP_* variables reach nested fields during Unmarshal.
func loadConfig(v *viper.Viper) (backup.Config, error) {
	cfg := backup.DefaultConfig()
	registerDefaults(v, "", reflect.ValueOf(cfg))

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode configuration: %w", err)
	}
	cfg.Accounts = splitList(cfg.Accounts)
	cfg.Exclude = splitList(cfg.Exclude)
	cfg.Notify.Email.To = splitList(cfg.Notify.Email.To)

	if v.GetBool("verbose") {
		cfg.Log.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func registerDefaults(v *viper.Viper, prefix string, val reflect.Value) {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		tag := strings.Split(field.Tag.Get("mapstructure"), ",")[0]
		if tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		if field.Type.Kind() == reflect.Struct {
			registerDefaults(v, key, val.Field(i))
			continue
		}
		v.SetDefault(key, val.Field(i).Interface())
	}
}

// splitList accepts both repeated values and a single comma or space
// separated value, the form environment variables arrive in.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.FieldsFunc(item, func(r rune) bool {
			return r == ',' || r == ' '
		}) {
			out = append(out, part)
		}
	}
	return out
}

func bindFlags(flags *pflag.FlagSet, keys map[string]string) {
	for name, key := range keys {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}
}

// redacted returns a copy of cfg safe to print.
func redacted(cfg backup.Config) backup.Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	cfg.Destination.Minio.SecretKey = mask(cfg.Destination.Minio.SecretKey)
	cfg.Destination.S3.SecretKey = mask(cfg.Destination.S3.SecretKey)
	cfg.Notify.Email.Password = mask(cfg.Notify.Email.Password)
	return cfg
}
