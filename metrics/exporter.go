package metrics

import (
	"strings"

	logging "github.com/ipfs/go-log/v2"
	"go.opencensus.io/stats/view"
)

var log = logging.Logger("metrics")

// LogExporter writes every exported view row to the metrics logger.
type LogExporter struct{}

var _ view.Exporter = LogExporter{}

func (LogExporter) ExportView(vd *view.Data) {
	for _, row := range vd.Rows {
		tags := make([]string, 0, len(row.Tags))
		for _, t := range row.Tags {
			tags = append(tags, t.Key.Name()+"="+t.Value)
		}
		log.Infow("view", "name", vd.View.Name, "tags", strings.Join(tags, ","), "value", rowValue(row.Data))
	}
}

func rowValue(d view.AggregationData) interface{} {
	switch v := d.(type) {
	case *view.CountData:
		return v.Value
	case *view.SumData:
		return v.Value
	case *view.DistributionData:
		return map[string]interface{}{"count": v.Count, "mean": v.Mean, "max": v.Max}
	case *view.LastValueData:
		return v.Value
	}
	return nil
}
