package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/dray-io/bulkgc/internal/keystrategy"
	metabadger "github.com/dray-io/bulkgc/internal/metadata/badger"
	metaoxia "github.com/dray-io/bulkgc/internal/metadata/oxia"
	s3store "github.com/dray-io/bulkgc/internal/objectstore/s3"
)

// badgerOptions are the status options of the badger backend.
type badgerOptions struct {
	Dir        string `mapstructure:"dir"`
	InMemory   bool   `mapstructure:"inMemory"`
	SyncWrites bool   `mapstructure:"syncWrites"`
}

// oxiaOptions are the status options of the oxia backend.
type oxiaOptions struct {
	ServiceAddress string        `mapstructure:"serviceAddress"`
	Namespace      string        `mapstructure:"namespace"`
	RequestTimeout time.Duration `mapstructure:"requestTimeout"`
	SessionTimeout time.Duration `mapstructure:"sessionTimeout"`
}

// s3Options are the store options of the s3 backend.
type s3Options struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"accessKeyId"`
	SecretAccessKey string `mapstructure:"secretAccessKey"`
	UsePathStyle    bool   `mapstructure:"usePathStyle"`
}

// decodeOptions decodes loosely typed YAML options into out. Durations may
// be given as strings ("5s").
func decodeOptions(in map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(in); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}
	return nil
}

// BadgerConfig decodes the options of the badger status backend.
func (s StatusConfig) BadgerConfig() (metabadger.Config, error) {
	var o badgerOptions
	if err := decodeOptions(s.Options, &o); err != nil {
		return metabadger.Config{}, err
	}
	if o.Dir == "" && !o.InMemory {
		return metabadger.Config{}, errors.New("badger: dir is required unless inMemory is set")
	}
	return metabadger.Config{Dir: o.Dir, InMemory: o.InMemory, SyncWrites: o.SyncWrites}, nil
}

// OxiaConfig decodes the options of the oxia status backend.
func (s StatusConfig) OxiaConfig() (metaoxia.Config, error) {
	o := oxiaOptions{Namespace: "default"}
	if err := decodeOptions(s.Options, &o); err != nil {
		return metaoxia.Config{}, err
	}
	if o.ServiceAddress == "" {
		return metaoxia.Config{}, errors.New("oxia: serviceAddress is required")
	}
	return metaoxia.Config{
		ServiceAddress: o.ServiceAddress,
		Namespace:      o.Namespace,
		RequestTimeout: o.RequestTimeout,
		SessionTimeout: o.SessionTimeout,
	}, nil
}

func (s StatusConfig) check() error {
	var err error
	switch s.Backend {
	case "badger":
		_, err = s.BadgerConfig()
	case "oxia":
		_, err = s.OxiaConfig()
	}
	return err
}

// S3Config decodes the options of the s3 store backend.
func (b BlobStoreConfig) S3Config() (s3store.Config, error) {
	var o s3Options
	if err := decodeOptions(b.Options, &o); err != nil {
		return s3store.Config{}, err
	}
	if o.Bucket == "" {
		return s3store.Config{}, errors.New("s3: bucket is required")
	}
	return s3store.Config{
		Bucket:          o.Bucket,
		Region:          o.Region,
		Endpoint:        o.Endpoint,
		AccessKeyID:     o.AccessKeyID,
		SecretAccessKey: o.SecretAccessKey,
		UsePathStyle:    o.UsePathStyle,
	}, nil
}

func (b BlobStoreConfig) check() error {
	if b.Backend == "s3" {
		_, err := b.S3Config()
		return err
	}
	return nil
}

// Strategy builds the key strategy of the provider.
func (p ProviderConfig) Strategy() (keystrategy.Strategy, error) {
	return keystrategy.Parse(p.KeyStrategy, p.KeyOption)
}
