package store

import (
	feed "github.com/planetarium/ncfeed/pkg"
)

// Open returns the store selected by conf.Store.Driver.
func Open(conf feed.Config) (feed.Store, error) {
	switch conf.Store.Driver {
	case "sqlite":
		return NewSQLite(conf.Store.DSN)
	case "postgres":
		return NewPostgresStore(conf.Store.DSN)
	}
	return nil, feed.NewErr(feed.BadRequest, "unsupported store driver: %q", conf.Store.Driver)
}
