package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/blukai/nova/internal/codec"
	"github.com/blukai/nova/internal/schema"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func schemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect and convert packet schemas",
	}
	cmd.AddCommand(schemaDumpCmd(), schemaImportCmd())
	return cmd
}

func schemaDumpCmd() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "dump [schema.yaml]",
		Short: "Validate a schema and print its packets",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				f   *schema.File
				err error
			)
			switch {
			case dbPath != "":
				db, err := schema.OpenDB(dbPath)
				if err != nil {
					return err
				}
				defer db.Close()
				if f, err = schema.LoadSQL(cmd.Context(), db); err != nil {
					return err
				}
			case len(args) == 1:
				if f, err = schema.Load(args[0]); err != nil {
					return err
				}
			default:
				return fmt.Errorf("need a schema file or --db")
			}

			table, err := f.Table()
			if err != nil {
				return err
			}
			dumpTable(cmd.OutOrStdout(), table)
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "read the schema from a sqlite database instead")

	return cmd
}

func schemaImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <schema.yaml> <schema.db>",
		Short: "Validate a yaml schema and store it in a sqlite database",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := schema.Load(args[0])
			if err != nil {
				return err
			}
			// refuse to store what the server would refuse to load
			if _, err := f.Table(); err != nil {
				return err
			}

			db, err := schema.OpenDB(args[1])
			if err != nil {
				return err
			}
			defer db.Close()

			if err := schema.Save(cmd.Context(), db, f); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "imported %d inbound and %d outbound packets into %s\n",
				len(f.Inbound), len(f.Outbound), args[1])
			return nil
		},
	}
}

func dumpTable(w io.Writer, table *codec.Table) {
	tw := tablewriter.NewWriter(w)
	tw.SetHeader([]string{"Direction", "Opcode", "Name", "Size", "Fields"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	appendCodecs := func(direction string, codecs []*codec.Codec) {
		for _, c := range codecs {
			fields := make([]string, 0, len(c.Fields()))
			for _, f := range c.Fields() {
				s := f.Name + ":" + f.Type.String()
				if f.Transformer != nil {
					s += "(" + f.Transformer.Translation().String() + "/" + f.Transformer.Order().String() + ")"
				}
				fields = append(fields, s)
			}
			tw.Append([]string{
				direction,
				fmt.Sprintf("%d", c.Descriptor.Opcode),
				c.Name,
				c.Descriptor.Size.String(),
				strings.Join(fields, " "),
			})
		}
	}
	appendCodecs("in", table.InboundCodecs())
	appendCodecs("out", table.OutboundCodecs())

	tw.Render()
}
