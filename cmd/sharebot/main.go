package main

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/jfk9w-go/flu"
	"github.com/jfk9w-go/flu/apfel"
	"github.com/jfk9w-go/flu/gormf"
	"github.com/jfk9w-go/flu/logf"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/jfk9w/sharebot/internal/media"
	"github.com/jfk9w/sharebot/internal/parsers"
	"github.com/jfk9w/sharebot/internal/parsers/douyin"
	"github.com/jfk9w/sharebot/internal/parsers/instagram"
	"github.com/jfk9w/sharebot/internal/storage"
)

type C struct {
	Db         apfel.GormConfig       `yaml:"db,omitempty" doc:"Database connection settings. Supported drivers: postgres, sqlite." default:"{\"driver\":\"sqlite\",\"dsn\":\"file::memory:?cache=shared\"}"`
	Media      media.Config           `yaml:"media,omitempty" doc:"Media downloader settings."`
	Douyin     douyin.Config          `yaml:"douyin,omitempty" doc:"douyin-related settings."`
	Instagram  instagram.Config       `yaml:"instagram,omitempty" doc:"instagram-related settings."`
	Logging    apfel.LogfConfig       `yaml:"logging,omitempty" doc:"Logging settings."`
	Prometheus apfel.PrometheusConfig `yaml:"prometheus,omitempty" doc:"Prometheus settings."`
}

func (c C) LogfConfig() apfel.LogfConfig             { return c.Logging }
func (c C) PrometheusConfig() apfel.PrometheusConfig { return c.Prometheus }
func (c C) StorageConfig() apfel.GormConfig          { return c.Db }
func (c C) DownloaderConfig() media.Config           { return c.Media }
func (c C) DouyinConfig() douyin.Config              { return c.Douyin }
func (c C) InstagramConfig() instagram.Config        { return c.Instagram }

var GitCommit = "dev"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app := apfel.Boot[C]{
		Name:    "sharebot",
		Version: GitCommit,
	}.App(ctx)
	defer flu.CloseQuietly(app)

	var (
		gormDrivers = &apfel.Gorm[C]{
			Drivers: map[string]apfel.GormDriver{
				"postgres": postgres.Open,
				"sqlite":   sqlite.Open,
			},
			Config: gorm.Config{
				Logger: gormf.LogfLogger(app, "gorm.sql"),
			},
		}

		registry parsers.Registry[C]
	)

	app.Uses(ctx,
		new(apfel.Logf[C]),
		new(apfel.Prometheus[C]),
		gormDrivers,
		new(storage.SQL[C]),
		new(media.Downloader[C]),
		&registry,
		new(douyin.Parser[C]),
		new(instagram.Parser[C]),
	)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		result, err := registry.Parse(ctx, scanner.Text())
		switch {
		case err != nil:
			logf.Warnf(ctx, "parse: %s", err)
		case result != nil:
			fmt.Printf("%s %s\n", result.Fingerprint(), result)
		}
	}

	if err := scanner.Err(); err != nil {
		logf.Errorf(ctx, "read stdin: %s", err)
	}
}
