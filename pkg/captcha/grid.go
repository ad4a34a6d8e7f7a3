package captcha

// GridCell é um tile do grid com seu retângulo em pixels.
type GridCell struct {
	Index int
	Rect  Rect
}

// GridSizeForTiles devolve o lado do grid: 16 tiles é 4x4, o resto é 3x3.
func GridSizeForTiles(n int) int {
	if n == 16 {
		return 4
	}
	return 3
}

// Cells divide a imagem em grid x grid células, em ordem de leitura (linha a linha).
func Cells(width, height, grid int) []GridCell {
	if grid <= 0 || width <= 0 || height <= 0 {
		return nil
	}
	cw := float64(width) / float64(grid)
	ch := float64(height) / float64(grid)

	cells := make([]GridCell, 0, grid*grid)
	for row := 0; row < grid; row++ {
		for col := 0; col < grid; col++ {
			cells = append(cells, GridCell{
				Index: row*grid + col,
				Rect: Rect{
					X1: float64(col) * cw,
					Y1: float64(row) * ch,
					X2: float64(col+1) * cw,
					Y2: float64(row+1) * ch,
				},
			})
		}
	}
	return cells
}

// OverlapFraction é a área de interseção dividida pela área da célula.
func OverlapFraction(box Rect, cell GridCell) float64 {
	area := cell.Rect.Area()
	if area == 0 {
		return 0
	}
	return box.Intersect(cell.Rect).Area() / area
}
