package engine

import (
	"fmt"
	"math"

	"github.com/talentstack/talent-risk/internal/models"
	"github.com/talentstack/talent-risk/internal/stats"
)

const minUsableFeatures = 2

// standardizedPoints builds the standardized coordinates for every row
// with at least minUsableFeatures present features. Absent cells are
// mean-imputed before standardization. Returns the points and the row
// indexes they correspond to.
func (m featureMatrix) standardizedPoints() ([][]float64, []int) {
	rows := make([]int, 0, len(m.values))
	for i := range m.values {
		present := 0
		for j := range m.features {
			if m.present[i][j] {
				present++
			}
		}
		if present >= minUsableFeatures {
			rows = append(rows, i)
		}
	}
	if len(rows) == 0 {
		return nil, nil
	}

	points := make([][]float64, len(rows))
	for k := range points {
		points[k] = make([]float64, len(m.features))
	}
	for j := range m.features {
		full := m.imputed(j)
		col := make([]float64, len(rows))
		for k, i := range rows {
			col[k] = full[i]
		}
		std := stats.Standardize(col)
		for k := range rows {
			points[k][j] = std[k]
		}
	}
	return points, rows
}

// detectDensity labels employees that no dense cluster will claim.
// Points are clustered with DBSCAN in standardized feature space; noise
// points are the anomalies.
func (e *Ensemble) detectDensity(m featureMatrix) []models.AnomalyFinding {
	points, rows := m.standardizedPoints()
	if len(points) < e.cfg.MinPopulation {
		return nil
	}

	labels := dbscan(points, e.cfg.ClusterEps, e.cfg.ClusterMinSamples)

	var findings []models.AnomalyFinding
	for k, label := range labels {
		if label != noiseLabel {
			continue
		}
		v := m.vectors[rows[k]]
		findings = append(findings, models.AnomalyFinding{
			EmployeeID:   v.EmployeeID,
			EmployeeName: v.EmployeeName,
			Method:       models.MethodDensityCluster,
			Detail:       fmt.Sprintf("outside all density clusters (eps=%.2f, minSamples=%d)", e.cfg.ClusterEps, e.cfg.ClusterMinSamples),
		})
	}
	return findings
}

const (
	noiseLabel     = -1
	unvisitedLabel = 0
)

// dbscan clusters points by density. Labels are cluster ids starting at
// 1, or noiseLabel for points no cluster reaches.
func dbscan(points [][]float64, eps float64, minSamples int) []int {
	labels := make([]int, len(points))
	cluster := 0
	for i := range points {
		if labels[i] != unvisitedLabel {
			continue
		}
		neighbors := regionQuery(points, i, eps)
		if len(neighbors) < minSamples {
			labels[i] = noiseLabel
			continue
		}
		cluster++
		labels[i] = cluster
		// Expand the cluster over a growing frontier.
		for cursor := 0; cursor < len(neighbors); cursor++ {
			n := neighbors[cursor]
			if labels[n] == noiseLabel {
				labels[n] = cluster
			}
			if labels[n] != unvisitedLabel {
				continue
			}
			labels[n] = cluster
			next := regionQuery(points, n, eps)
			if len(next) >= minSamples {
				neighbors = append(neighbors, next...)
			}
		}
	}
	return labels
}

// regionQuery returns the indexes of all points within eps of point i,
// including i itself.
func regionQuery(points [][]float64, i int, eps float64) []int {
	var out []int
	for j := range points {
		if euclidean(points[i], points[j]) <= eps {
			out = append(out, j)
		}
	}
	return out
}

func euclidean(a, b []float64) float64 {
	sum := 0.0
	for d := range a {
		diff := a[d] - b[d]
		sum += diff * diff
	}
	return math.Sqrt(sum)
}
