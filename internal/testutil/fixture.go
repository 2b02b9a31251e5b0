package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// ModelFiles returns a small but representative model: three tables with
// columns, measures, calculated columns and partitions, relationships, a
// security role, and identifiers that need quoting.
func ModelFiles() map[string]string {
	return map[string]string{
		"definition/model.tmd": `model Contoso {
	ref table Sales
	ref table Customer
	ref table Product

	measure 'Total Sales' {
		expression: ` + "`SUMX(Sales, Sales[Amount] * Sales[Quantity])`" + `
		formatString: #,0.00
	}
}
`,
		"definition/tables/Sales.tmd": `table Sales {
	column Amount {
		dataType: decimal
	}
	column Quantity {
		dataType: int64
	}
	column CustomerId {
		dataType: int64
	}
	column OrderId {
		dataType: int64
		sourceColumn: order_id
	}
	column Cost {
		dataType: decimal
	}
	column Margin {
		dataType: decimal
		isCalculated: true
		expression: ` + "`Sales[Amount] - [Cost]`" + `
	}

	measure 'Order Count' {
		expression: ` + "`COUNTROWS(Sales) & \" of Sales\"`" + `
		displayFolder: Counts
	}

	partition Sales {
		mode: import
		step Source {
			expression: ` + "`Sql.Database(\"sql01\", \"dwh\"){[Schema=\"dbo\", Item=\"Sales\"]}[Data]`" + `
		}
		step Renamed {
			expression: ` + "`Table.RenameColumns(Source, \"order_id\", \"OrderId\")`" + `
		}
		step Typed {
			expression: ` + "`Table.TransformColumnTypes(Renamed, [Amount], [Quantity])`" + `
		}
	}
}
`,
		"definition/tables/Customer.tmd": `table Customer {
	column Id {
		dataType: int64
	}
	column 'Full Name' {
		dataType: string
		sourceColumn: full_name
	}

	partition Customer {
		mode: import
		step Source {
			expression: ` + "`Sql.Database(\"sql01\", \"dwh\"){[Schema=\"dbo\", Item=\"Customer\"]}[Data]`" + `
		}
	}
}
`,
		"definition/tables/Product.tmd": `table Product {
	column Id {
		dataType: int64
	}
	column Name {
		dataType: string
	}

	partition Product {
		mode: import
		step Source {
			expression: ` + "`Csv.Document(File.Contents(\"data/products.csv\"), [Delimiter=\",\", Encoding=65001])`" + `
		}
	}
}
`,
		"definition/relationships.tmd": `relationship rel1 {
	fromColumn: Sales.CustomerId
	toColumn: Customer.Id
	cardinality: manyToOne
	crossFilter: single
}
`,
		"definition/roles/Readers.tmd": `role Readers {
	modelPermission: read

	tablePermission Sales {
		filterExpression: ` + "`[Amount] > 0`" + `
	}
}
`,
	}
}

// WriteModel materializes ModelFiles (or a custom file set) under dir.
func WriteModel(t testing.TB, dir string, files map[string]string) {
	t.Helper()
	if files == nil {
		files = ModelFiles()
	}
	for rel, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", p, err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}
}

// ReadModel reads every file under dir's definition tree, keyed by
// slash-separated relative path.
func ReadModel(t testing.TB, dir string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	root := filepath.Join(dir, "definition")
	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		t.Fatalf("read model tree: %v", err)
	}
	return out
}
