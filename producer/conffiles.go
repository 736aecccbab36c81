package producer

import (
	"context"
	"strings"

	"github.com/etnz/debmaker/deb"
	"github.com/etnz/debmaker/internal/logger"
)

// CollectConffiles runs the producers and returns the absolute install path
// of every file they emit. File contents are not read.
func CollectConffiles(ctx context.Context, producers ...deb.Producer) ([]string, error) {
	c := &conffileCollector{ctx: ctx}
	for _, p := range producers {
		if err := p.Produce(ctx, c); err != nil {
			return nil, err
		}
	}
	return c.paths, nil
}

type conffileCollector struct {
	ctx   context.Context
	paths []string
}

func (c *conffileCollector) OnDirectory(deb.Entry) error { return nil }
func (c *conffileCollector) OnLink(deb.Entry) error      { return nil }

func (c *conffileCollector) OnFile(e deb.Entry) error {
	name := strings.TrimPrefix(e.Path, ".")
	if !strings.HasPrefix(name, "/") {
		name = "/" + name
	}
	logger.Infof(c.ctx, "Adding conffile: %s", name)
	c.paths = append(c.paths, name)
	return nil
}
