package host

import (
	_ "embed"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.yaml.in/yaml/v3"
)

//go:embed products.yaml
var productsYAML []byte

// Product is one build of the host application.
type Product struct {
	Name        string `yaml:"name" json:"name"`
	Version     string `yaml:"version" json:"version"`
	BuildNumber string `yaml:"buildnumber" json:"build_number"`
	BuildTarget string `yaml:"buildtarget" json:"build_target"`
	ProductYear int    `yaml:"year" json:"year"`
	InstallPath string `yaml:"-" json:"install_path,omitempty"`
}

func (p Product) String() string {
	if p.BuildNumber == "" {
		return p.Name
	}
	return fmt.Sprintf("%s | Version: %s | Build: %s(%s)", p.Name, p.Version, p.BuildNumber, p.BuildTarget)
}

var (
	supported     []Product
	supportedOnce sync.Once
	supportedErr  error
)

func loadSupported() ([]Product, error) {
	supportedOnce.Do(func() {
		var doc struct {
			Products []Product `yaml:"products"`
		}
		if err := yaml.Unmarshal(productsYAML, &doc); err != nil {
			supportedErr = fmt.Errorf("parsing product catalog: %w", err)
			return
		}
		sortNewestFirst(doc.Products)
		supported = doc.Products
	})
	return supported, supportedErr
}

// Supported returns every known build, newest first.
func Supported() []Product {
	ps, err := loadSupported()
	if err != nil {
		// The catalog is embedded; a parse failure is a build defect.
		panic(err)
	}
	return append([]Product(nil), ps...)
}

// LookupBuild returns the product with the given build number.
func LookupBuild(buildNumber string) (*Product, bool) {
	buildNumber = strings.TrimSpace(buildNumber)
	for _, p := range Supported() {
		if p.BuildNumber == buildNumber {
			return &p, true
		}
	}
	return nil, false
}

// ByYear returns the newest known build for a product year.
func ByYear(year int) (*Product, bool) {
	for _, p := range Supported() {
		if p.ProductYear == year {
			return &p, true
		}
	}
	return nil, false
}

// IsSupportedYear reports whether year appears in the catalog.
func IsSupportedYear(year int) bool {
	_, ok := ByYear(year)
	return ok
}

// SupportedYears returns the distinct product years, newest first.
func SupportedYears() []int {
	var years []int
	seen := map[int]bool{}
	for _, p := range Supported() {
		if !seen[p.ProductYear] {
			seen[p.ProductYear] = true
			years = append(years, p.ProductYear)
		}
	}
	return years
}

func sortNewestFirst(ps []Product) {
	sort.SliceStable(ps, func(i, j int) bool {
		if ps[i].ProductYear != ps[j].ProductYear {
			return ps[i].ProductYear > ps[j].ProductYear
		}
		return compareVersions(ps[i].Version, ps[j].Version) > 0
	})
}

// compareVersions compares dotted numeric versions such as 25.0.2.419,
// which have one component too many for semver.
func compareVersions(a, b string) int {
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var x, y int
		if i < len(as) {
			x, _ = strconv.Atoi(as[i])
		}
		if i < len(bs) {
			y, _ = strconv.Atoi(bs[i])
		}
		if x != y {
			if x < y {
				return -1
			}
			return 1
		}
	}
	return 0
}
