package main

import (
	"bytes"
	"flag"
	"math"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	log "github.com/sirupsen/logrus"

	tileindex "github.com/tingold/orb-tileindex"
	"github.com/tingold/orb-tileindex/flatgeobuf"
	geojsondriver "github.com/tingold/orb-tileindex/geojson"
	"github.com/tingold/orb-tileindex/gpkg"
)

// everything covers every entry of an index, whatever its reference system.
var everything = orb.Bound{
	Min: orb.Point{-math.MaxFloat64, -math.MaxFloat64},
	Max: orb.Point{math.MaxFloat64, math.MaxFloat64},
}

type server struct {
	reg   *tileindex.Registry
	index string
	field string
}

// entries returns the index entries intersecting bound as features with the
// location in the field property.
func (s *server) entries(bound orb.Bound) (*geojson.FeatureCollection, error) {
	hits, err := tileindex.Lookup(s.reg, s.index, s.field, bound)
	if err != nil {
		return nil, err
	}
	fc := geojson.NewFeatureCollection()
	for _, e := range hits {
		f := geojson.NewFeature(e.Geometry)
		f.Properties[s.field] = e.Location
		fc.Append(f)
	}
	return fc, nil
}

// parseBBox reads "minx,miny,maxx,maxy". An empty value selects every entry.
func parseBBox(v string) (orb.Bound, error) {
	if v == "" {
		return everything, nil
	}
	parts := strings.Split(v, ",")
	if len(parts) != 4 {
		return orb.Bound{}, errors.Newf("bbox needs 4 values, got %d", len(parts))
	}
	var c [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return orb.Bound{}, errors.Wrapf(err, "bbox value %d", i)
		}
		c[i] = f
	}
	return orb.Bound{Min: orb.Point{c[0], c[1]}, Max: orb.Point{c[2], c[3]}}, nil
}

func (s *server) handleTiles(w http.ResponseWriter, r *http.Request) {
	bound, err := parseBBox(r.URL.Query().Get("bbox"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	fc, err := s.entries(bound)
	if err != nil {
		log.WithError(err).Error("Tile lookup failed")
		http.Error(w, "tile lookup failed", http.StatusInternalServerError)
		return
	}
	data, err := fc.MarshalJSON()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Write(data)
}

// handleIndex serves the whole index as FlatGeobuf, whatever format it is kept in.
func (s *server) handleIndex(w http.ResponseWriter, r *http.Request) {
	fc, err := s.entries(everything)
	if err != nil {
		log.WithError(err).Error("Reading tile index failed")
		http.Error(w, "reading tile index failed", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	opts := &flatgeobuf.Options{
		Name:         tileindex.DefaultLayerName,
		Description:  "Tile index of " + filepath.Base(s.index),
		IncludeIndex: true,
		Columns:      []flatgeobuf.ColumnInfo{{Name: s.field, Type: "String"}},
	}
	if err := flatgeobuf.WriteFeatures(&buf, fc, opts); err != nil {
		log.WithError(err).Error("Encoding tile index failed")
		http.Error(w, "encoding tile index failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Write(buf.Bytes())
}

func main() {
	index := flag.String("index", "tileindex.fgb", "Tile index to serve")
	field := flag.String("field", tileindex.DefaultLocationField, "Location field of the index")
	addr := flag.String("addr", ":8080", "Listen address")
	flag.Parse()

	s := &server{
		reg:   tileindex.NewRegistry(flatgeobuf.NewDriver(), geojsondriver.NewDriver(), gpkg.NewDriver()),
		index: *index,
		field: *field,
	}

	// Get the directory of the client files (one level up from server)
	clientDir := filepath.Join("..", "client")
	fs := http.FileServer(http.Dir(clientDir))

	http.HandleFunc("/tiles", s.handleTiles)
	http.HandleFunc("/index.fgb", s.handleIndex)
	http.Handle("/", fs)

	log.WithFields(log.Fields{"addr": *addr, "index": *index}).Info("Server starting")
	log.WithField("dir", clientDir).Info("Serving client files")
	log.Fatal(http.ListenAndServe(*addr, nil))
}
