// Package factory builds pluggable modules, such as metrics sinks, from the
// `type`/`conf` entries of the service configuration.
//
// A sink package registers itself at init time:
//
//	_ = metrics.RegisterMetricsSink("influx", func(conf map[string]any) (metrics.MetricsSink, error) {
//	    var c struct {
//	        URL    string `json:"url"`
//	        Bucket string `json:"bucket"`
//	    }
//	    if err := factory.Decode(conf, &c); err != nil {
//	        return nil, err
//	    }
//	    return NewInfluxSink(c.URL, "", "", c.Bucket), nil
//	})
package factory
