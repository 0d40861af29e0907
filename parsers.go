package l7agent

import (
	"github.com/netobserve/l7agent/l7proto"
	"github.com/netobserve/l7agent/protocol/dns"
	"github.com/netobserve/l7agent/protocol/dubbo"
	"github.com/netobserve/l7agent/protocol/http1"
	"github.com/netobserve/l7agent/protocol/http2"
	"github.com/netobserve/l7agent/protocol/kafka"
	"github.com/netobserve/l7agent/protocol/mqtt"
	"github.com/netobserve/l7agent/protocol/mysql"
	"github.com/netobserve/l7agent/protocol/postgres"
	"github.com/netobserve/l7agent/protocol/redis"
	"github.com/netobserve/l7agent/registry"
)

// NewRegistry builds a registry holding every parser this module ships, in
// the documented identification precedence order: HTTP/1, HTTP/2, DNS,
// MySQL, Kafka, Redis, Postgres, Dubbo, MQTT.
func NewRegistry() *registry.Registry {
	reg := registry.New()
	reg.Register(l7proto.HTTP1, func() registry.Parser { return http1.New() })
	reg.Register(l7proto.HTTP2, func() registry.Parser { return http2.New() })
	reg.Register(l7proto.DNS, func() registry.Parser { return dns.New() })
	reg.Register(l7proto.MySQL, func() registry.Parser { return mysql.New() })
	reg.Register(l7proto.Kafka, func() registry.Parser { return kafka.New() })
	reg.Register(l7proto.Redis, func() registry.Parser { return redis.New() })
	reg.Register(l7proto.Postgres, func() registry.Parser { return postgres.New() })
	reg.Register(l7proto.Dubbo, func() registry.Parser { return dubbo.New() })
	reg.Register(l7proto.MQTT, func() registry.Parser { return mqtt.New() })
	return reg
}
