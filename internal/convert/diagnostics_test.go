package convert

import (
	"reflect"
	"strings"
	"testing"
)

func TestParseDiagnosticsValidationErrors(t *testing.T) {
	output := `Input path: /tmp/in
Output path: /tmp/out
Shapefile validation errors:
  - Shapefile 'parcels.shp' is incomplete:
  Found: parcels.shp, parcels.shx
  Missing: parcels.dbf
  - Shapefile 'roads.shp' is incomplete:
  Found: roads.shp
  Missing: roads.shx, roads.dbf

trailing noise
`
	diag := ParseDiagnostics(output)
	if diag == nil {
		t.Fatal("expected a diagnostic")
	}
	if diag.Marker != MarkerValidationErrors {
		t.Fatalf("unexpected marker: %s", diag.Marker)
	}
	want := []string{
		"Shapefile 'parcels.shp' is incomplete: Found: parcels.shp, parcels.shx Missing: parcels.dbf",
		"Shapefile 'roads.shp' is incomplete: Found: roads.shp Missing: roads.shx, roads.dbf",
	}
	if !reflect.DeepEqual(diag.Details, want) {
		t.Fatalf("unexpected details:\n%#v", diag.Details)
	}

	msg := diag.Message(output)
	if !strings.HasPrefix(msg, MarkerValidationErrors+"\n- Shapefile 'parcels.shp'") {
		t.Fatalf("unexpected message:\n%s", msg)
	}
	if strings.Contains(msg, "trailing noise") || strings.Contains(msg, "Input path") {
		t.Fatalf("message should contain only the extracted detail:\n%s", msg)
	}
}

func TestParseDiagnosticsNoValidSources(t *testing.T) {
	output := `No valid shapefiles found in the input directory
Please ensure your ZIP file contains complete shapefiles with .shp, .shx, and .dbf files

Files found in the directory:
  - readme.txt
  - parcels.dbf

No .shp files found. Please ensure your ZIP contains shapefile (.shp) files.
`
	diag := ParseDiagnostics(output)
	if diag == nil || diag.Marker != MarkerNoValidSources {
		t.Fatalf("unexpected diagnostic: %+v", diag)
	}
	if !reflect.DeepEqual(diag.Details, []string{"readme.txt", "parcels.dbf"}) {
		t.Fatalf("unexpected details: %#v", diag.Details)
	}
}

func TestParseDiagnosticsWithoutDetailsUsesRawText(t *testing.T) {
	output := "\nShapefile validation errors:\n\n"
	diag := ParseDiagnostics(output)
	if diag == nil {
		t.Fatal("expected a diagnostic")
	}
	if len(diag.Details) != 0 {
		t.Fatalf("expected no details, got %#v", diag.Details)
	}
	if got := diag.Message(output); got != "Shapefile validation errors:" {
		t.Fatalf("expected trimmed raw text, got %q", got)
	}
}

func TestParseDiagnosticsNoMarker(t *testing.T) {
	if diag := ParseDiagnostics("parcels.shp --> .kml\nDone\n"); diag != nil {
		t.Fatalf("expected nil, got %+v", diag)
	}
}
