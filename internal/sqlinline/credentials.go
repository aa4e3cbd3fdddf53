package sqlinline

const QSelectIntegrationToken = `--sql 6d2ba9ca-71b7-4e7f-8b6f-406703c25566
select token
from integration_tokens
where provider = $1::text;
`

const QUpsertIntegrationToken = `--sql e5ab4df6-661d-474c-9439-2e7050594c33
insert into integration_tokens (provider, token, properties, created_at, updated_at)
values ($1::text, $2::text, coalesce($3::jsonb, '{}'::jsonb), now(), now())
on conflict (provider) do update set
    token = excluded.token,
    properties = excluded.properties,
    updated_at = now();
`
